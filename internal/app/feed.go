package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ideadeck/api/internal/feed"
	"ideadeck/api/internal/store"
	"ideadeck/api/internal/util"
)

// toggleWait bounds how long a decide call waits for the remote like before
// letting it settle in the background.
const toggleWait = 200 * time.Millisecond

// feedSession is one swipe-through of the deck. The stack itself is not
// concurrency safe; all access goes through the service's feed mutex. The
// mutex guards maps and stack state only, never store calls or waits.
type feedSession struct {
	id        string
	userID    string
	userName  string
	stack     *feed.Stack
	coord     *feed.Coordinator
	mutator   *captureMutator
	expiresAt time.Time
}

// captureMutator records the card a decision wants to like so the service can
// run the remote toggle after the stack has advanced. Navigation never waits
// on the network.
type captureMutator struct {
	post  store.Post
	fired bool
}

func (m *captureMutator) ToggleLike(post store.Post) {
	m.post = post
	m.fired = true
}

func (m *captureMutator) reset() {
	m.post = store.Post{}
	m.fired = false
}

// FeedPayload is the feed state returned by every feed endpoint.
type FeedPayload struct {
	SessionID  string        `json:"sessionId"`
	State      string        `json:"state"`
	Cards      []PostPayload `json:"cards"`
	Index      int           `json:"index"`
	Total      int           `json:"total"`
	SuperLikes feed.Budget   `json:"superLikes"`
	Decision   string        `json:"decision,omitempty"`
	Warning    string        `json:"warning,omitempty"`
}

// feedSnapshot captures session state under the feed mutex so the response
// payload can be assembled after it is released.
type feedSnapshot struct {
	id      string
	state   string
	visible []store.Post
	index   int
	total   int
	budget  feed.Budget
	coord   *feed.Coordinator
}

// likeToggle is a remote like captured during a decision, run once the feed
// mutex is no longer held.
type likeToggle struct {
	coord  *feed.Coordinator
	postID string
	userID string
}

func (s *Service) coordinatorFor(userID string) *feed.Coordinator {
	if userID == "" {
		return feed.NewCoordinator()
	}
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return s.coordinatorForLocked(userID)
}

func (s *Service) coordinatorForLocked(userID string) *feed.Coordinator {
	coord, ok := s.coordinators[userID]
	if !ok {
		coord = feed.NewCoordinator()
		s.coordinators[userID] = coord
	}
	return coord
}

// StartFeedSession builds a fresh deck from the current posts, newest first.
// An existing session for the same caller is replaced. Like state is loaded
// before the feed mutex is taken.
func (s *Service) StartFeedSession(ctx context.Context, session Session) (FeedPayload, error) {
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return FeedPayload{}, err
	}
	liked := make(map[string]bool, len(posts))
	if session.UserID != "" {
		for _, post := range posts {
			liked[post.ID], _ = s.store.IsPostLiked(ctx, post.ID, session.UserID)
		}
	}

	s.feedMu.Lock()
	s.sweepFeedSessionsLocked()

	var coord *feed.Coordinator
	if session.UserID == "" {
		coord = feed.NewCoordinator()
	} else {
		coord = s.coordinatorForLocked(session.UserID)
	}
	for _, post := range posts {
		coord.Prime(post, liked[post.ID])
	}

	mutator := &captureMutator{}
	sess := &feedSession{
		id:        util.NewID("feed"),
		userID:    session.UserID,
		userName:  session.UserName,
		stack:     feed.NewStack(posts, s.cfg.SuperLikeMax, mutator),
		coord:     coord,
		mutator:   mutator,
		expiresAt: time.Now().Add(s.feedTTL),
	}
	s.feedSessions[sess.id] = sess
	snap := snapshotFeedSession(sess)
	s.feedMu.Unlock()

	return s.buildFeedPayload(ctx, snap), nil
}

// FeedState returns the session's visible cards, progress, and budget.
func (s *Service) FeedState(ctx context.Context, sessionID, callerID string) (FeedPayload, error) {
	s.feedMu.Lock()
	sess, err := s.feedSessionLocked(sessionID, callerID)
	if err != nil {
		s.feedMu.Unlock()
		return FeedPayload{}, err
	}
	snap := snapshotFeedSession(sess)
	s.feedMu.Unlock()
	return s.buildFeedPayload(ctx, snap), nil
}

// FeedSwipe resolves a drag release into a decision. An ambiguous gesture
// snaps back and changes nothing.
func (s *Service) FeedSwipe(ctx context.Context, sessionID, callerID string, offsetX, velocityX float64) (FeedPayload, error) {
	decision := feed.Resolve(offsetX, velocityX)
	if decision == feed.DecisionNone {
		s.feedMu.Lock()
		sess, err := s.feedSessionLocked(sessionID, callerID)
		if err != nil {
			s.feedMu.Unlock()
			return FeedPayload{}, err
		}
		snap := snapshotFeedSession(sess)
		s.feedMu.Unlock()
		payload := s.buildFeedPayload(ctx, snap)
		payload.Decision = decision.String()
		return payload, nil
	}
	return s.applyDecision(ctx, sessionID, callerID, decision)
}

// FeedDecide applies a button-press decision to the top card.
func (s *Service) FeedDecide(ctx context.Context, sessionID, callerID, decision string) (FeedPayload, error) {
	parsed, ok := feed.ParseDecision(decision)
	if !ok {
		return FeedPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "decision must be pass, like, or superlike", nil)
	}
	return s.applyDecision(ctx, sessionID, callerID, parsed)
}

// applyDecision advances the stack under the feed mutex, then releases it
// before waiting on any remote like, so one caller's pending like never
// delays another caller's navigation.
func (s *Service) applyDecision(ctx context.Context, sessionID, callerID string, decision feed.Decision) (FeedPayload, error) {
	s.feedMu.Lock()
	sess, err := s.feedSessionLocked(sessionID, callerID)
	if err != nil {
		s.feedMu.Unlock()
		return FeedPayload{}, err
	}
	snap, pending, err := s.decideLocked(sess, decision)
	s.feedMu.Unlock()
	if err != nil {
		return FeedPayload{}, err
	}

	payload := s.buildFeedPayload(ctx, snap)
	payload.Decision = decision.String()
	if pending != nil {
		payload.Warning = s.awaitLikeToggle(pending)
	}
	return payload, nil
}

func (s *Service) decideLocked(sess *feedSession, decision feed.Decision) (feedSnapshot, *likeToggle, error) {
	if sess.userID == "" && decision != feed.DecisionPass {
		return feedSnapshot{}, nil, domainError(http.StatusForbidden, "FORBIDDEN", "Sign in to like ideas", nil)
	}

	sess.mutator.reset()
	if _, err := sess.stack.Decide(decision); err != nil {
		if errors.Is(err, feed.ErrNotActive) {
			if sess.stack.State() == feed.StateEmpty {
				return feedSnapshot{}, nil, domainError(http.StatusConflict, "FEED_EMPTY", "There are no ideas to swipe", nil)
			}
			return feedSnapshot{}, nil, domainError(http.StatusConflict, "FEED_COMPLETE", "You have seen every idea in this session", nil)
		}
		return feedSnapshot{}, nil, err
	}

	var pending *likeToggle
	if sess.mutator.fired {
		pending = &likeToggle{coord: sess.coord, postID: sess.mutator.post.ID, userID: sess.userID}
	}
	return snapshotFeedSession(sess), pending, nil
}

// awaitLikeToggle starts the remote like toggle and waits briefly for it.
// A fast failure is reported as a warning; a slow call settles after the
// response has gone out, reconciling the coordinator's view state either way.
func (s *Service) awaitLikeToggle(t *likeToggle) string {
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := t.coord.ToggleLike(ctx, t.postID, func(ctx context.Context) (string, int, error) {
			return s.store.TogglePostLike(ctx, t.postID, t.userID)
		})
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			return ""
		}
		if errors.Is(err, feed.ErrBusy) {
			return "a like for this idea is already in flight"
		}
		return "your like could not be saved and was undone"
	case <-time.After(toggleWait):
		return ""
	}
}

func (s *Service) feedSessionLocked(sessionID, callerID string) (*feedSession, error) {
	s.sweepFeedSessionsLocked()
	sess, ok := s.feedSessions[sessionID]
	if !ok {
		return nil, domainError(http.StatusNotFound, "FEED_SESSION_NOT_FOUND", "Feed session expired; start a new one", nil)
	}
	if sess.userID != "" && sess.userID != callerID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Feed session belongs to another user", nil)
	}
	sess.expiresAt = time.Now().Add(s.feedTTL)
	return sess, nil
}

// sweepFeedSessionsLocked drops expired sessions, then any coordinator left
// with no live session and nothing in flight.
func (s *Service) sweepFeedSessionsLocked() {
	now := time.Now()
	for id, sess := range s.feedSessions {
		if now.After(sess.expiresAt) {
			delete(s.feedSessions, id)
		}
	}
	live := make(map[string]bool, len(s.feedSessions))
	for _, sess := range s.feedSessions {
		if sess.userID != "" {
			live[sess.userID] = true
		}
	}
	for userID, coord := range s.coordinators {
		if !live[userID] && coord.Idle() {
			delete(s.coordinators, userID)
		}
	}
}

func snapshotFeedSession(sess *feedSession) feedSnapshot {
	return feedSnapshot{
		id:      sess.id,
		state:   sess.stack.State().String(),
		visible: sess.stack.Visible(),
		index:   sess.stack.Index(),
		total:   sess.stack.Len(),
		budget:  sess.stack.Budget(),
		coord:   sess.coord,
	}
}

func (s *Service) buildFeedPayload(ctx context.Context, snap feedSnapshot) FeedPayload {
	cards := make([]PostPayload, 0, len(snap.visible))
	for _, post := range snap.visible {
		payload := s.postPayload(ctx, post, "")
		if view, ok := snap.coord.View(post.ID); ok {
			payload.Likes = view.Likes
			payload.LikedByViewer = view.Liked
		}
		cards = append(cards, payload)
	}
	return FeedPayload{
		SessionID:  snap.id,
		State:      snap.state,
		Cards:      cards,
		Index:      snap.index,
		Total:      snap.total,
		SuperLikes: snap.budget,
	}
}
