package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore is the slice of the data store the exporter needs.
type DataStore interface {
	ListLikedIdeas(ctx context.Context, userID string) ([]Idea, error)
}

// Service builds liked-ideas digests.
type Service struct {
	store DataStore
}

func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export renders the user's liked ideas in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	ideas, err := s.store.ListLikedIdeas(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("list liked ideas: %w", err)
	}
	if len(ideas) == 0 {
		return nil, ErrNothingToExport
	}

	data := TemplateData{
		UserName:    req.UserName,
		GeneratedAt: time.Now(),
	}
	for _, idea := range ideas {
		data.Ideas = append(data.Ideas, TemplateIdea{
			Title:    idea.Title,
			Content:  idea.Content,
			IdeaType: idea.IdeaType,
			Tags:     idea.Tags,
			Author:   idea.Author,
			Likes:    idea.Likes,
			Date:     idea.CreatedAt.Format("Jan 2, 2006"),
		})
	}

	html, err := RenderDigestHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}

	name := "liked-ideas"
	if req.UserName != "" {
		name = req.UserName + " liked ideas"
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, name)
	case FormatDOCX:
		return exportDOCX(html, name)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
