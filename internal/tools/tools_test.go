package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailtriage/internal/trello"
)

type fakeCards struct {
	err      error
	gotType  string
	gotTitle string
	gotDue   time.Time
}

func (f *fakeCards) CreateCard(ctx context.Context, cardType, name, desc string, due time.Time) (*trello.CardResult, error) {
	f.gotType, f.gotTitle, f.gotDue = cardType, name, due
	if f.err != nil {
		return nil, f.err
	}
	return &trello.CardResult{ID: "c1", Name: name, URL: "https://trello.com/c/x", List: trello.ListNameForType(cardType)}, nil
}

func TestParseSaveSummary(t *testing.T) {
	call, err := Parse(SaveSummaryName, `{"content":"notes","filename":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, SaveSummaryCall{Content: "notes", Filename: "x"}, call)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]struct{ name, args string }{
		"not json":         {SaveSummaryName, `{"content":`},
		"missing required": {SaveSummaryName, `{"filename":"x"}`},
		"wrong type":       {SaveSummaryName, `{"content":42}`},
		"bad enum":         {CreateTaskCardName, `{"title":"t","type":"party"}`},
		"bad due":          {CreateTaskCardName, `{"title":"t","due":"next tuesday"}`},
		"empty arguments":  {CreateTaskCardName, ``},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(tc.name, tc.args)
			assert.ErrorIs(t, err, ErrMalformedArguments)
		})
	}
}

func TestParseCreateCard(t *testing.T) {
	call, err := Parse(CreateTaskCardName, `{"title":"Lunch","type":"meeting","due":"2024-01-02"}`)
	require.NoError(t, err)
	c, ok := call.(CreateCardCall)
	require.True(t, ok)
	assert.Equal(t, "Lunch", c.Title)
	assert.Equal(t, "meeting", c.Type)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), c.Due)
}

func TestParseUnknownToolIsNotAnError(t *testing.T) {
	call, err := Parse("launch_rockets", `not even json`)
	require.NoError(t, err)
	assert.Equal(t, UnknownCall{Name: "launch_rockets", Arguments: "not even json"}, call)

	out, err := NewRegistry(t.TempDir(), nil, zerolog.Nop()).Execute(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, UnknownResult, out)
}

func TestSaveSummaryWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "summaries")
	r := NewRegistry(dir, nil, zerolog.Nop())

	out, err := r.Execute(context.Background(), SaveSummaryCall{Content: "hello", Filename: "x"})
	require.NoError(t, err)
	want := filepath.Join(dir, "x.txt")
	assert.Equal(t, "Content saved successfully to "+want, out)
	b, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestSaveSummaryDefaultsAndSanitizesFilename(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir, nil, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC) }

	out, err := r.Execute(context.Background(), SaveSummaryCall{Content: "a"})
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "summary_20240304_050607.txt"))

	out, err = r.Execute(context.Background(), SaveSummaryCall{Content: "b", Filename: "../../etc/notes.txt"})
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "notes.txt"))
}

func TestCreateCardExecution(t *testing.T) {
	cards := &fakeCards{}
	r := NewRegistry(t.TempDir(), cards, zerolog.Nop())
	assert.Len(t, r.Specs(), 2)

	out, err := r.Execute(context.Background(), CreateCardCall{Title: "Standup", Type: "meeting"})
	require.NoError(t, err)
	assert.Equal(t, `Card "Standup" created in list Meeting: https://trello.com/c/x`, out)
	assert.Equal(t, "meeting", cards.gotType)

	cards.err = errors.New("trello API error: 401")
	_, err = r.Execute(context.Background(), CreateCardCall{Title: "x"})
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, CreateTaskCardName, execErr.Tool)
	assert.Equal(t, "trello API error: 401", execErr.Message)
}

func TestCreateCardWithoutBoard(t *testing.T) {
	r := NewRegistry(t.TempDir(), nil, zerolog.Nop())
	assert.Len(t, r.Specs(), 1)
	_, err := r.Execute(context.Background(), CreateCardCall{Title: "x"})
	var execErr *ExecutionError
	assert.ErrorAs(t, err, &execErr)
}
