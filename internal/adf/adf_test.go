package adf

import (
	"testing"
)

func doc(nodes ...Node) *Doc {
	return &Doc{Type: "doc", Version: 1, Content: nodes}
}

func para(text string) Node {
	return Node{Type: "paragraph", Content: []Node{{Type: "text", Text: text}}}
}

func TestToPlainText(t *testing.T) {
	tests := []struct {
		name string
		doc  *Doc
		want string
	}{
		{"nil doc", nil, ""},
		{"empty doc", Empty(), ""},
		{"single paragraph", doc(para("hello")), "hello"},
		{"two paragraphs", doc(para("one"), para("two")), "one\n\ntwo"},
		{
			"hard break",
			doc(Node{Type: "paragraph", Content: []Node{
				{Type: "text", Text: "line one"},
				{Type: "hardBreak"},
				{Type: "text", Text: "line two"},
			}}),
			"line one\nline two",
		},
		{
			"nested content flattens",
			doc(Node{Type: "bulletList", Content: []Node{
				{Type: "listItem", Content: []Node{para("item")}},
			}}),
			"item",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToPlainText(tt.doc); got != tt.want {
				t.Errorf("ToPlainText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromPlainTextRoundTrip(t *testing.T) {
	texts := []string{
		"hello",
		"one\n\ntwo",
		"line one\nline two",
		"a\nb\n\nc",
	}
	for _, text := range texts {
		if got := ToPlainText(FromPlainText(text)); got != text {
			t.Errorf("round trip of %q = %q", text, got)
		}
	}
}

func TestFromPlainTextEmptyIsExplicitDoc(t *testing.T) {
	d := FromPlainText("")
	if d == nil {
		t.Fatal("empty text produced nil doc")
	}
	if d.Type != "doc" || d.Version != 1 || len(d.Content) != 0 {
		t.Fatalf("empty doc = %+v", d)
	}
}

func mediaNode(id string) Node {
	return Node{Type: "mediaSingle", Content: []Node{
		{Type: "media", Attrs: map[string]any{"id": id, "type": "file"}},
	}}
}

func TestMediaIDs(t *testing.T) {
	d := doc(para("text"), mediaNode("m1"), mediaNode("m2"))
	ids := MediaIDs(d)
	if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m2" {
		t.Fatalf("MediaIDs = %v", ids)
	}
	if got := MediaIDs(nil); got != nil {
		t.Fatalf("MediaIDs(nil) = %v", got)
	}
}

func TestRewriteMediaLeavesOriginalUntouched(t *testing.T) {
	d := doc(mediaNode("m1"), mediaNode("unmapped"))
	out := RewriteMedia(d, map[string]string{"m1": "x1"})

	got := MediaIDs(out)
	if len(got) != 2 || got[0] != "x1" || got[1] != "unmapped" {
		t.Fatalf("rewritten ids = %v", got)
	}
	// The input document must not share state with the clone.
	orig := MediaIDs(d)
	if orig[0] != "m1" {
		t.Fatalf("original mutated: %v", orig)
	}
}
