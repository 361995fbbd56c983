package locale

import "strings"

// Store exposes language lookup for handlers and services.
type Store interface {
	List() []Language
	Find(code string) (Language, bool)
	Resolve(code string) Language
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Language
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied languages.
func NewMemoryStore(items []Language) *MemoryStore {
	return &MemoryStore{items: append([]Language(nil), items...)}
}

// List returns the supported languages.
func (s *MemoryStore) List() []Language {
	return append([]Language(nil), s.items...)
}

// Find looks up a language by BCP 47 code, case-insensitively. A bare
// primary subtag such as "es" matches its first regional entry.
func (s *MemoryStore) Find(code string) (Language, bool) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return Language{}, false
	}
	for _, item := range s.items {
		if strings.EqualFold(item.Code, code) {
			return item, true
		}
	}
	primary, _, _ := strings.Cut(code, "-")
	for _, item := range s.items {
		itemPrimary, _, _ := strings.Cut(item.Code, "-")
		if strings.EqualFold(itemPrimary, primary) {
			return item, true
		}
	}
	return Language{}, false
}

// Resolve returns the matching language or the default one.
func (s *MemoryStore) Resolve(code string) Language {
	if item, ok := s.Find(code); ok {
		return item
	}
	if item, ok := s.Find(DefaultCode); ok {
		return item
	}
	return Language{Code: DefaultCode, Label: "English"}
}
