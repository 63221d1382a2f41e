package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"queue-system/internal/status"
	"queue-system/internal/storage"
	"queue-system/models"
	"queue-system/monitoring"
	"queue-system/utils"
)

const maxIDAttempts = 8

var errIDSpaceExhausted = errors.New("no free queue id after retries")

// QueueService is the queue state engine. Every action on a queue runs
// under that queue's lock: load, transition a clone, persist, commit,
// update users, fan out.
type QueueService struct {
	mu     sync.RWMutex
	queues map[string]*models.Queue
	locks  *keyedMutex

	users   *UserService
	backend storage.Backend
	fanout  *Fanout

	now        func() time.Time
	newID      func() (string, error)
	secretCost int
}

type Option func(*QueueService)

func WithClock(now func() time.Time) Option {
	return func(s *QueueService) { s.now = now }
}

// WithIDGenerator replaces the random queue id source.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *QueueService) { s.newID = fn }
}

// WithSecretCost sets the bcrypt cost used for manager secrets.
func WithSecretCost(cost int) Option {
	return func(s *QueueService) { s.secretCost = cost }
}

// NewQueueService builds the engine. backend and network may be nil.
func NewQueueService(users *UserService, backend storage.Backend, network Network, opts ...Option) *QueueService {
	s := &QueueService{
		queues:     make(map[string]*models.Queue),
		locks:      newKeyedMutex(),
		users:      users,
		backend:    backend,
		now:        time.Now,
		newID:      func() (string, error) { return utils.GenerateCode(4) },
		secretCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fanout = NewFanout(network, users, s.now)
	return s
}

// userEffects collects the user record changes a transition implies.
type userEffects map[string][]func(*models.User)

func (e userEffects) add(userID string, fn func(*models.User)) {
	e[userID] = append(e[userID], fn)
}

type transition func(q *models.Queue, fx userEffects) error

func (s *QueueService) Create(ctx context.Context, userID string, p CreatePayload) (*ManagerView, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, status.Validation("name is required")
	}

	secret, err := utils.GenerateSecret(16)
	if err != nil {
		return nil, status.Internal("generate manager secret", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.secretCost)
	if err != nil {
		return nil, status.Internal("hash manager secret", err)
	}
	otpSecret, err := utils.GenerateOTPSecret()
	if err != nil {
		return nil, status.Internal("generate otp secret", err)
	}

	laneNames := p.Lanes
	if len(laneNames) == 0 {
		laneNames = []string{"1"}
	}
	lanes := make([]models.Lane, len(laneNames))
	for i, n := range laneNames {
		if n = strings.TrimSpace(n); n == "" {
			n = strconv.Itoa(i + 1)
		}
		lanes[i] = models.Lane{Name: n}
	}

	now := s.now()
	q := &models.Queue{
		Name:           name,
		OTP:            p.OTP,
		OTPSecret:      otpSecret,
		UseBells:       p.UseBells,
		ManagerSecret:  string(hash),
		Lanes:          lanes,
		Waiting:        []string{},
		Bells:          []string{},
		BellsProcessed: []string{},
		UserData:       map[string]models.UserData{},
		ManageUsers:    []string{userID},
		CreatedAt:      now,
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, status.Internal("generate queue id", err)
		}
		created, err := s.tryCreate(ctx, id, q, p)
		if err != nil {
			return nil, err
		}
		if !created {
			slog.Warn("Queue id collision, regenerating", "queueId", id, "attempt", attempt+1)
			continue
		}
		view := NewManagerView(q, now)
		view.ManagerSecret = secret
		return view, nil
	}
	return nil, status.Internal("allocate queue id", errIDSpaceExhausted)
}

// tryCreate stores q under id unless the id is already taken in memory or
// in the backend.
func (s *QueueService) tryCreate(ctx context.Context, id string, q *models.Queue, p CreatePayload) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	_, taken := s.queues[id]
	s.mu.RUnlock()
	if taken {
		return false, nil
	}

	q.ID = id
	if s.backend != nil {
		err := s.backend.CreateQueue(ctx, q)
		if errors.Is(err, storage.ErrExists) {
			return false, nil
		}
		if err != nil {
			return false, status.Internal("save queue", err)
		}
	}
	s.put(q)

	fx := userEffects{}
	creator := q.ManageUsers[0]
	fx.add(creator, func(u *models.User) { u.Manage(id) })
	s.commit(ctx, models.ActionCreate, p, id, nil, q, fx)
	slog.Info("Queue created", "queueId", id, "name", q.Name, "userId", creator)
	return true, nil
}

func (s *QueueService) Delete(ctx context.Context, userID string, p QueuePayload) error {
	if p.QueueID == "" {
		return status.Validation("queueId is required")
	}
	unlock := s.locks.Lock(p.QueueID)
	defer unlock()

	old, err := s.load(ctx, p.QueueID)
	if err != nil {
		return err
	}
	if !old.IsManager(userID) {
		return status.ErrNotManager
	}
	if s.backend != nil {
		if err := s.backend.DeleteQueue(ctx, p.QueueID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return status.Internal("delete queue", err)
		}
	}

	s.mu.Lock()
	delete(s.queues, p.QueueID)
	s.mu.Unlock()

	// memberships of the remaining users go stale until their next connect
	s.commit(ctx, models.ActionDelete, p, p.QueueID, old, nil, nil)
	slog.Info("Queue deleted", "queueId", p.QueueID, "userId", userID)
	return nil
}

func (s *QueueService) Update(ctx context.Context, userID string, p UpdatePayload) (*ManagerView, error) {
	next, err := s.mutate(ctx, models.ActionUpdate, p, p.QueueID, func(q *models.Queue, _ userEffects) error {
		if !q.IsManager(userID) {
			return status.ErrNotManager
		}
		if p.Name != nil {
			name := strings.TrimSpace(*p.Name)
			if name == "" {
				return status.Validation("name must not be empty")
			}
			q.Name = name
		}
		if p.OTP != nil {
			q.OTP = *p.OTP
		}
		if p.UseBells != nil {
			q.UseBells = *p.UseBells
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewManagerView(next, s.now()), nil
}

func (s *QueueService) Join(ctx context.Context, userID string, p JoinPayload) (*ParticipantView, error) {
	next, err := s.mutate(ctx, models.ActionJoin, p, p.QueueID, func(q *models.Queue, fx userEffects) error {
		if q.OTP {
			ok, err := totp.ValidateCustom(p.Code, q.OTPSecret, s.now(), otpOpts)
			if err != nil || !ok {
				return status.ErrWrongCode
			}
		}
		switch q.PositionOf(userID) {
		case models.PositionComplete:
		case models.PositionBellProcessed:
			// the history entry closes the previous episode
			q.RemoveUser(userID)
			delete(q.UserData, userID)
		default:
			return status.ErrAlreadyJoined
		}

		q.Waiting = append(q.Waiting, userID)
		q.UserData[userID] = q.NewUserData(s.now())
		fx.add(userID, func(u *models.User) { u.JoinQueue(q.ID) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewParticipantView(next, userID), nil
}

func (s *QueueService) Leave(ctx context.Context, userID string, p QueuePayload) (*ParticipantView, error) {
	next, err := s.mutate(ctx, models.ActionLeave, p, p.QueueID, func(q *models.Queue, fx userEffects) error {
		if q.RemoveUser(userID) == models.PositionComplete {
			return status.ErrNotInQueue
		}
		delete(q.UserData, userID)
		fx.add(userID, func(u *models.User) { u.LeaveQueue(q.ID) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewParticipantView(next, userID), nil
}

func (s *QueueService) JoinManager(ctx context.Context, userID string, p JoinManagerPayload) (*ParticipantView, error) {
	next, err := s.mutate(ctx, models.ActionJoinManager, p, p.QueueID, func(q *models.Queue, fx userEffects) error {
		if bcrypt.CompareHashAndPassword([]byte(q.ManagerSecret), []byte(p.Secret)) != nil {
			return status.ErrWrongSecret
		}
		if q.IsManager(userID) {
			return status.ErrAlreadyManage
		}
		q.AddManager(userID)
		fx.add(userID, func(u *models.User) { u.Manage(q.ID) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewParticipantView(next, userID), nil
}

// LeaveManager is reserved and changes nothing.
func (s *QueueService) LeaveManager(context.Context, string, QueuePayload) error {
	return nil
}

func (s *QueueService) CreateLane(ctx context.Context, userID string, p CreateLanePayload) (*ManagerView, error) {
	return s.manage(ctx, models.ActionCreateLane, p, p.QueueID, userID, func(q *models.Queue, _ userEffects) error {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = strconv.Itoa(len(q.Lanes) + 1)
		}
		q.Lanes = append(q.Lanes, models.Lane{Name: name})
		return nil
	})
}

func (s *QueueService) RenameLane(ctx context.Context, userID string, p RenameLanePayload) (*ManagerView, error) {
	return s.manage(ctx, models.ActionRenameLane, p, p.QueueID, userID, func(q *models.Queue, _ userEffects) error {
		if err := checkLane(q, p.Lane); err != nil {
			return err
		}
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return status.Validation("name must not be empty")
		}
		q.Lanes[p.Lane].Name = name
		return nil
	})
}

func (s *QueueService) DeleteLane(ctx context.Context, userID string, p LanePayload) (*ManagerView, error) {
	return s.manage(ctx, models.ActionDeleteLane, p, p.QueueID, userID, func(q *models.Queue, _ userEffects) error {
		if err := checkLane(q, p.Lane); err != nil {
			return err
		}
		if occupant := q.Lanes[p.Lane].Occupant; occupant != "" {
			q.Waiting = slices.Insert(q.Waiting, 0, occupant)
		}
		q.Lanes = slices.Delete(q.Lanes, p.Lane, p.Lane+1)
		return nil
	})
}

func (s *QueueService) Next(ctx context.Context, userID string, p LanePayload) (*ManagerView, error) {
	return s.manage(ctx, models.ActionNext, p, p.QueueID, userID, func(q *models.Queue, _ userEffects) error {
		if err := checkLane(q, p.Lane); err != nil {
			return err
		}
		if q.Lanes[p.Lane].Occupant != "" {
			return status.ErrLaneOccupied
		}
		if len(q.Waiting) == 0 {
			return status.ErrQueueEmpty
		}
		head := q.Waiting[0]
		q.Waiting = slices.Clone(q.Waiting[1:])
		q.Lanes[p.Lane].Occupant = head
		q.Lanes[p.Lane].AssignedAt = s.now()
		return nil
	})
}

func (s *QueueService) Confirm(ctx context.Context, userID string, p ConfirmPayload) (*ManagerView, error) {
	return s.manage(ctx, models.ActionConfirm, p, p.QueueID, userID, func(q *models.Queue, fx userEffects) error {
		if err := checkLane(q, p.Lane); err != nil {
			return err
		}
		lane := q.Lanes[p.Lane]
		if lane.Occupant == "" {
			return status.ErrLaneEmpty
		}

		now := s.now()
		occupant := lane.Occupant
		q.ProcessedTime += max(now.Sub(lane.AssignedAt).Milliseconds(), 0)
		q.ProcessedUsers++
		q.Lanes[p.Lane].Occupant = ""
		q.Lanes[p.Lane].AssignedAt = time.Time{}

		if q.UseBells && p.Success {
			q.Bells = append(q.Bells, occupant)
			data := q.UserData[occupant]
			data.Description = p.Description
			q.UserData[occupant] = data
			return nil
		}

		delete(q.UserData, occupant)
		fx.add(occupant, func(u *models.User) {
			u.RecordResult(q.ID, p.Success, now)
			u.LeaveQueue(q.ID)
		})
		return nil
	})
}

func (s *QueueService) ConfirmBell(ctx context.Context, userID string, p ConfirmBellPayload) (*ManagerView, error) {
	return s.manage(ctx, models.ActionConfirmBell, p, p.QueueID, userID, func(q *models.Queue, fx userEffects) error {
		if p.Bell < 0 || p.Bell >= len(q.Bells) {
			return status.ErrBellNotFound
		}
		now := s.now()
		user := q.Bells[p.Bell]
		q.Bells = slices.Delete(q.Bells, p.Bell, p.Bell+1)
		fx.add(user, func(u *models.User) { u.RecordResult(q.ID, true, now) })

		for _, evicted := range q.PushBellProcessed(user) {
			delete(q.UserData, evicted)
			fx.add(evicted, func(u *models.User) { u.LeaveQueue(q.ID) })
		}
		return nil
	})
}

// View returns userID's projection of a queue.
func (s *QueueService) View(ctx context.Context, queueID, userID string) (*ParticipantView, error) {
	q, err := s.Snapshot(ctx, queueID)
	if err != nil {
		return nil, err
	}
	return NewParticipantView(q, userID), nil
}

// Snapshot returns the committed queue. Callers must not modify it.
func (s *QueueService) Snapshot(ctx context.Context, queueID string) (*models.Queue, error) {
	unlock := s.locks.Lock(queueID)
	defer unlock()
	return s.load(ctx, queueID)
}

// Handshake is the CONNECT reply.
type Handshake struct {
	ID             string                        `json:"id"`
	Token          string                        `json:"token,omitempty"`
	Queues         []*ParticipantView            `json:"queues"`
	ManagingQueues []*ManagerView                `json:"managingQueues"`
	QueueResults   map[string]models.QueueResult `json:"queueResults"`
}

// Connect loads or creates the user and drops memberships that no longer
// hold: deleted queues, and queues the user has no position in.
func (s *QueueService) Connect(ctx context.Context, userID string) (*Handshake, error) {
	user, err := s.users.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	hs := &Handshake{
		ID:             userID,
		Queues:         []*ParticipantView{},
		ManagingQueues: []*ManagerView{},
		QueueResults:   user.QueueResults,
	}
	var staleQueues, staleManaging []string

	for _, id := range user.Queues {
		q, err := s.Snapshot(ctx, id)
		if status.KindOf(err) == status.KindNotFound {
			staleQueues = append(staleQueues, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !q.IsParticipant(userID) {
			staleQueues = append(staleQueues, id)
			continue
		}
		hs.Queues = append(hs.Queues, NewParticipantView(q, userID))
	}
	for _, id := range user.ManagingQueues {
		q, err := s.Snapshot(ctx, id)
		if status.KindOf(err) == status.KindNotFound {
			staleManaging = append(staleManaging, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		hs.ManagingQueues = append(hs.ManagingQueues, NewManagerView(q, s.now()))
	}

	if len(staleQueues)+len(staleManaging) > 0 {
		user, err = s.users.Modify(ctx, userID, func(u *models.User) {
			for _, id := range staleQueues {
				u.LeaveQueue(id)
			}
			for _, id := range staleManaging {
				u.Unmanage(id)
			}
		})
		if err != nil {
			return nil, err
		}
		hs.QueueResults = user.QueueResults
	}
	return hs, nil
}

func (s *QueueService) Stats() monitoring.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := monitoring.Stats{
		Queues:  len(s.queues),
		Users:   s.users.Count(),
		Waiting: make(map[string]int, len(s.queues)),
	}
	for id, q := range s.queues {
		st.Waiting[id] = len(q.Waiting)
	}
	return st
}

// manage runs fn as a mutation restricted to the queue's managers and
// returns the manager view of the result.
func (s *QueueService) manage(ctx context.Context, kind models.ActionType, payload any, queueID, userID string, fn transition) (*ManagerView, error) {
	next, err := s.mutate(ctx, kind, payload, queueID, func(q *models.Queue, fx userEffects) error {
		if !q.IsManager(userID) {
			return status.ErrNotManager
		}
		return fn(q, fx)
	})
	if err != nil {
		return nil, err
	}
	return NewManagerView(next, s.now()), nil
}

func (s *QueueService) mutate(ctx context.Context, kind models.ActionType, payload any, queueID string, fn transition) (*models.Queue, error) {
	if queueID == "" {
		return nil, status.Validation("queueId is required")
	}
	unlock := s.locks.Lock(queueID)
	defer unlock()

	old, err := s.load(ctx, queueID)
	if err != nil {
		return nil, err
	}
	next := old.Clone()
	fx := userEffects{}
	if err := fn(next, fx); err != nil {
		return nil, err
	}

	if s.backend != nil {
		if err := s.backend.UpdateQueue(ctx, next); err != nil {
			return nil, status.Internal("save queue", err)
		}
	}
	s.put(next)
	s.commit(ctx, kind, payload, queueID, old, next, fx)
	return next, nil
}

// commit applies user effects and fans the change out. The queue itself is
// already committed, so failures here are logged rather than returned.
func (s *QueueService) commit(ctx context.Context, kind models.ActionType, payload any, queueID string, old, next *models.Queue, fx userEffects) {
	ids := make([]string, 0, len(fx))
	for id := range fx {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fns := fx[id]
		_, err := s.users.Modify(ctx, id, func(u *models.User) {
			for _, fn := range fns {
				fn(u)
			}
		})
		if err != nil {
			slog.Error("Failed to update user", "userId", id, "queueId", queueID, "error", err)
		}
	}

	action := models.Action{Type: kind}
	if data, err := json.Marshal(payload); err == nil {
		action.Payload = data
	}
	s.fanout.Publish(action, queueID, old, next)
}

func (s *QueueService) load(ctx context.Context, id string) (*models.Queue, error) {
	s.mu.RLock()
	q, ok := s.queues[id]
	s.mu.RUnlock()
	if ok {
		return q, nil
	}
	if s.backend == nil {
		return nil, status.ErrQueueNotFound
	}

	q, err := s.backend.GetQueue(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, status.ErrQueueNotFound
	}
	if err != nil {
		return nil, status.Internal("load queue", err)
	}
	s.put(q)
	return q, nil
}

func (s *QueueService) put(q *models.Queue) {
	s.mu.Lock()
	s.queues[q.ID] = q
	s.mu.Unlock()
}

func checkLane(q *models.Queue, lane int) error {
	if lane < 0 || lane >= len(q.Lanes) {
		return status.ErrLaneNotFound
	}
	return nil
}
