package locale

import "testing"

func TestResolveFallsBackToDefault(t *testing.T) {
	store := NewMemoryStore(Seed())

	if got := store.Resolve("xx-YY").Code; got != DefaultCode {
		t.Fatalf("expected %s, got %s", DefaultCode, got)
	}
	if got := store.Resolve("").Code; got != DefaultCode {
		t.Fatalf("expected %s for empty code, got %s", DefaultCode, got)
	}
}

func TestFindMatchesCaseAndPrimarySubtag(t *testing.T) {
	store := NewMemoryStore(Seed())

	if lang, ok := store.Find("zh_cn"); !ok || lang.Code != "zh-CN" {
		t.Fatalf("expected zh-CN, got %+v ok=%v", lang, ok)
	}
	if lang, ok := store.Find("es"); !ok || lang.Code != "es-ES" {
		t.Fatalf("expected es-ES, got %+v ok=%v", lang, ok)
	}
}

func TestSeedHasNineLanguages(t *testing.T) {
	if n := len(Seed()); n != 9 {
		t.Fatalf("expected 9 languages, got %d", n)
	}
}
