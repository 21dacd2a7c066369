package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

type memoryStore struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64
	now    func() time.Time
}

// memoryUserRepository keeps users in process memory. Transactions hold the
// store lock for their whole duration and restore a snapshot on failure.
type memoryUserRepository struct {
	store *memoryStore
	inTx  bool
}

// NewMemoryUserRepository returns an empty store. now stamps created/updated
// times and defaults to time.Now.
func NewMemoryUserRepository(now func() time.Time) UserRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryUserRepository{store: &memoryStore{users: make(map[int64]*model.User), now: now}}
}

func (r *memoryUserRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func clone(u *model.User) *model.User {
	cp := *u
	return &cp
}

func (r *memoryUserRepository) find(match func(u *model.User) bool) (*model.User, error) {
	defer r.lock()()
	for _, u := range r.store.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memoryUserRepository) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Email != nil && *u.Email == email })
}

func (r *memoryUserRepository) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username != nil && *u.Username == username })
}

func (r *memoryUserRepository) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	defer r.lock()()
	u, ok := r.store.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return clone(u), nil
}

func (r *memoryUserRepository) ListUsers(_ context.Context) ([]*model.User, error) {
	defer r.lock()()
	users := make([]*model.User, 0, len(r.store.users))
	for _, u := range r.store.users {
		users = append(users, clone(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// conflict reports a uniqueness clash with any user other than self.
func (r *memoryUserRepository) conflict(self int64, email, username *string) error {
	for id, u := range r.store.users {
		if id == self {
			continue
		}
		if email != nil && u.Email != nil && *u.Email == *email {
			return common.ErrEmailTaken
		}
		if username != nil && u.Username != nil && *u.Username == *username {
			return common.ErrUsernameTaken
		}
	}
	return nil
}

func (r *memoryUserRepository) CreateLocalUser(_ context.Context, in model.NewLocalUser) (*model.User, error) {
	defer r.lock()()

	email := in.Email
	if err := r.conflict(0, &email, in.Username); err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = model.DefaultRole
	}
	hash := in.PasswordHash
	now := r.store.now()

	r.store.nextID++
	u := &model.User{
		ID:           r.store.nextID,
		Email:        &email,
		Username:     in.Username,
		PasswordHash: &hash,
		LoginMethod:  model.LoginMethodLocal,
		Role:         role,
		Name:         model.DisplayName(in.FirstName, in.LastName),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Patronymic:   in.Patronymic,
		BirthDate:    in.BirthDate,
		DeathDate:    in.DeathDate,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSignedIn: now,
	}
	r.store.users[u.ID] = u
	return clone(u), nil
}

func (r *memoryUserRepository) UpdateUser(_ context.Context, id int64, upd model.UserUpdate) error {
	if upd.Empty() {
		return nil
	}
	defer r.lock()()

	u, ok := r.store.users[id]
	if !ok {
		return common.ErrNotFound
	}
	if err := r.conflict(id, upd.Email, upd.Username); err != nil {
		return err
	}

	next := clone(u)
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.Email != nil {
		email := *upd.Email
		next.Email = &email
	}
	if upd.Username != nil {
		username := *upd.Username
		next.Username = &username
	}
	if upd.Role != nil {
		next.Role = *upd.Role
	}
	if upd.FirstName != nil {
		next.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		next.LastName = *upd.LastName
	}
	if upd.Patronymic != nil {
		patronymic := *upd.Patronymic
		next.Patronymic = &patronymic
	}
	switch {
	case upd.ClearBirthDate:
		next.BirthDate = nil
	case upd.BirthDate != nil:
		birth := *upd.BirthDate
		next.BirthDate = &birth
	}
	switch {
	case upd.ClearDeathDate:
		next.DeathDate = nil
	case upd.DeathDate != nil:
		death := *upd.DeathDate
		next.DeathDate = &death
	}
	next.UpdatedAt = r.store.now()
	r.store.users[id] = next
	return nil
}

func (r *memoryUserRepository) mutate(id int64, fn func(u *model.User)) error {
	defer r.lock()()
	u, ok := r.store.users[id]
	if !ok {
		return common.ErrNotFound
	}
	next := clone(u)
	fn(next)
	r.store.users[id] = next
	return nil
}

func (r *memoryUserRepository) UpdateUserPassword(_ context.Context, id int64, passwordHash string) error {
	return r.mutate(id, func(u *model.User) {
		u.PasswordHash = &passwordHash
		u.UpdatedAt = r.store.now()
	})
}

func (r *memoryUserRepository) TouchLastSignedIn(_ context.Context, id int64, at time.Time) error {
	err := r.mutate(id, func(u *model.User) { u.LastSignedIn = at })
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

func (r *memoryUserRepository) DeleteUserAccount(_ context.Context, id int64) error {
	defer r.lock()()
	if _, ok := r.store.users[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.store.users, id)
	return nil
}

func (r *memoryUserRepository) SetToken(_ context.Context, purpose model.TokenPurpose, userID int64, digest string, expiry time.Time) error {
	if _, _, err := tokenColumns(purpose); err != nil {
		return err
	}
	return r.mutate(userID, func(u *model.User) {
		u.SetPendingToken(purpose, &digest, &expiry)
		u.UpdatedAt = r.store.now()
	})
}

func (r *memoryUserRepository) GetUserByToken(_ context.Context, purpose model.TokenPurpose, digest string) (*model.User, error) {
	if _, _, err := tokenColumns(purpose); err != nil {
		return nil, err
	}
	return r.find(func(u *model.User) bool {
		stored, _ := u.PendingToken(purpose)
		return stored != nil && *stored == digest
	})
}

func (r *memoryUserRepository) ClearToken(_ context.Context, purpose model.TokenPurpose, userID int64) error {
	if _, _, err := tokenColumns(purpose); err != nil {
		return err
	}
	err := r.mutate(userID, func(u *model.User) {
		u.SetPendingToken(purpose, nil, nil)
		u.UpdatedAt = r.store.now()
	})
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

func (r *memoryUserRepository) ClaimToken(_ context.Context, purpose model.TokenPurpose, digest string, now time.Time) (int64, error) {
	if _, _, err := tokenColumns(purpose); err != nil {
		return 0, err
	}
	defer r.lock()()

	for id, u := range r.store.users {
		stored, expiry := u.PendingToken(purpose)
		if stored == nil || *stored != digest {
			continue
		}
		if expiry == nil || !expiry.After(now) {
			return 0, common.ErrTokenInvalidOrExpired
		}
		next := clone(u)
		next.SetPendingToken(purpose, nil, nil)
		next.UpdatedAt = r.store.now()
		r.store.users[id] = next
		return id, nil
	}
	return 0, common.ErrTokenInvalidOrExpired
}

func (r *memoryUserRepository) MarkEmailAsVerified(_ context.Context, userID int64) error {
	return r.mutate(userID, func(u *model.User) {
		u.EmailVerified = true
		u.UpdatedAt = r.store.now()
	})
}

func (r *memoryUserRepository) PurgeExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	defer r.lock()()

	var purged int64
	for id, u := range r.store.users {
		next := clone(u)
		changed := false
		for _, purpose := range []model.TokenPurpose{model.PurposeEmailVerification, model.PurposePasswordReset} {
			stored, expiry := next.PendingToken(purpose)
			if stored != nil && expiry != nil && !expiry.After(now) {
				next.SetPendingToken(purpose, nil, nil)
				purged++
				changed = true
			}
		}
		if changed {
			r.store.users[id] = next
		}
	}
	return purged, nil
}

func (r *memoryUserRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo UserRepository) error) (err error) {
	if r.inTx {
		return fn(ctx, r)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	snapshot := make(map[int64]*model.User, len(r.store.users))
	for id, u := range r.store.users {
		snapshot[id] = u
	}
	nextID := r.store.nextID

	defer func() {
		if p := recover(); p != nil {
			r.store.users, r.store.nextID = snapshot, nextID
			panic(p)
		}
		if err != nil {
			r.store.users, r.store.nextID = snapshot, nextID
		}
	}()

	return fn(ctx, &memoryUserRepository{store: r.store, inTx: true})
}
