package audit

import "testing"

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"b": true, "a": []any{3, 2, 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"alpha":{"a":[3,2,1],"b":true},"zeta":1}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalJSON_StructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	type ba struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	x, err := CanonicalJSON(ab{A: "1", B: "2"})
	if err != nil {
		t.Fatal(err)
	}
	y, err := CanonicalJSON(ba{A: "1", B: "2"})
	if err != nil {
		t.Fatal(err)
	}
	if string(x) != string(y) {
		t.Errorf("canonical forms differ: %s vs %s", x, y)
	}
}

func TestCanonicalJSON_PreservesLargeNumbers(t *testing.T) {
	got, err := CanonicalJSON(map[string]any{"n": int64(9007199254740993)})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"n":9007199254740993}` {
		t.Errorf("number precision lost: %s", got)
	}
}

func TestCanonicalJSON_Unmarshalable(t *testing.T) {
	if _, err := CanonicalJSON(make(chan int)); err == nil {
		t.Error("expected error for channel value")
	}
}
