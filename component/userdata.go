package component

import "sync"

// UserData attaches one arbitrary value to its owner.
type UserData struct {
	mu   sync.RWMutex
	data any
}

// SetUserData stores v.
func (u *UserData) SetUserData(v any) {
	u.mu.Lock()
	u.data = v
	u.mu.Unlock()
}

// UserData returns the stored value.
func (u *UserData) UserData() any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.data
}

// UserDataAs returns the stored value as T.
func UserDataAs[T any](u *UserData) (T, bool) {
	v, ok := u.UserData().(T)
	return v, ok
}
