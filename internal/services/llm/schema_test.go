package llm

import (
	"testing"
)

const testSchema = `{
  "type": "object",
  "required": ["title"],
  "properties": {"title": {"type": "string", "minLength": 1}}
}`

func TestDecodeValidated(t *testing.T) {
	schema := MustCompileSchema("test.json", testSchema)
	var out struct {
		Title string `json:"title"`
	}
	if err := DecodeValidated(schema, "```json\n{\"title\":\"Episode\"}\n```", &out); err != nil {
		t.Fatalf("DecodeValidated: %v", err)
	}
	if out.Title != "Episode" {
		t.Fatalf("unexpected title %q", out.Title)
	}
	if err := DecodeValidated(schema, `{"title":""}`, &out); err == nil {
		t.Fatal("expected schema violation")
	}
	if err := DecodeValidated(schema, `not json`, &out); err == nil {
		t.Fatal("expected decode failure")
	}
}

func TestCompileSchemaRejectsInvalidDocument(t *testing.T) {
	if _, err := CompileSchema("bad.json", `{"type": 12}`); err == nil {
		t.Fatal("expected compile error")
	}
}
