package utils

import "testing"

func TestMarshalNoEscape(t *testing.T) {
	got, err := MarshalNoEscape(map[string]string{"chunk": "<b>1 & 2</b>"})
	if err != nil {
		t.Fatalf("MarshalNoEscape: %v", err)
	}
	want := `{"chunk":"<b>1 & 2</b>"}`
	if string(got) != want {
		t.Errorf("MarshalNoEscape = %s, want %s", got, want)
	}
}
