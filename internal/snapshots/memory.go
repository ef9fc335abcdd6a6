package snapshots

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps snapshots for the lifetime of the process.
type MemoryRepository struct {
	mutex sync.Mutex
	data  map[string][]byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: map[string][]byte{}}
}

func (r *MemoryRepository) Load(ctx context.Context, userId string) ([]byte, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	data, ok := r.data[userId]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return append([]byte(nil), data...), nil
}

func (r *MemoryRepository) Save(ctx context.Context, userId string, data []byte) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.data[userId] = append([]byte(nil), data...)
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, userId string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.data, userId)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	users := make([]string, 0, len(r.data))
	for user := range r.data {
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}
