package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/GetStream/chat-render/api/validator"
	"github.com/GetStream/chat-render/render"
)

const room = "room@muc.example.org"

func chatRecord(id string, minute int) render.Record {
	return render.Record{
		ID:     id,
		Type:   render.TypeGroupchat,
		Sender: render.SenderThem,
		Nick:   "ann",
		Time:   time.Date(2024, 1, 1, 10, minute, 0, 0, time.UTC),
		Text:   "hello " + id,
	}
}

func TestAPI_listPlans(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		db          *testdb
		cache       *testcache
		wantStatus  int
		wantBody    string
		wantPlans   []string
		wantRender  []string
		containsLog string
	}{
		{
			name:       "InvalidJID",
			path:       "/chats/a@b@example.org/plans",
			wantStatus: 400,
		},
		{
			name:       "InvalidPage",
			path:       "/chats/" + room + "/plans?page=0",
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid page"
			}`,
		},
		{
			name: "CacheError",
			path: "/chats/" + room + "/plans",
			cache: &testcache{
				listRecords: func(t *testing.T, jid string) ([]render.Record, error) {
					return nil, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not list records"
			}`,
		},
		{
			name: "DBError",
			path: "/chats/" + room + "/plans",
			cache: &testcache{
				listRecords: func(t *testing.T, jid string) ([]render.Record, error) {
					return nil, nil
				},
			},
			db: &testdb{
				listRecords: func(t *testing.T, jid string, limit, offset int, excludeIDs ...string) ([]render.Record, error) {
					return nil, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not list records"
			}`,
		},
		{
			name: "Empty",
			path: "/chats/" + room + "/plans",
			cache: &testcache{
				listRecords: func(t *testing.T, jid string) ([]render.Record, error) {
					return nil, nil
				},
			},
			db: &testdb{
				listRecords: func(t *testing.T, jid string, limit, offset int, excludeIDs ...string) ([]render.Record, error) {
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"plans": []
			}`,
		},
		{
			name: "CacheThenDB",
			path: "/chats/" + room + "/plans?viewer=bob@example.org&nick=bob",
			cache: &testcache{
				listRecords: func(t *testing.T, jid string) ([]render.Record, error) {
					if jid != room {
						t.Errorf("Got jid %q, want %q", jid, room)
					}
					return []render.Record{chatRecord("3", 2), chatRecord("2", 1)}, nil
				},
				insertRecord: func(t *testing.T, jid string, rec render.Record) error {
					if rec.ID != "1" {
						t.Errorf("Got cached record %q, want 1", rec.ID)
					}
					return errors.New("cache full")
				},
			},
			db: &testdb{
				listRecords: func(t *testing.T, jid string, limit, offset int, excludeIDs ...string) ([]render.Record, error) {
					if limit != pageSize || offset != 0 {
						t.Errorf("Got limit %d offset %d, want %d and 0", limit, offset, pageSize)
					}
					if diff := cmp.Diff([]string{"3", "2"}, excludeIDs); diff != "" {
						t.Errorf("Excluded ids mismatch (-want +got):\n%s", diff)
					}
					return []render.Record{chatRecord("1", 0)}, nil
				},
			},
			wantStatus:  200,
			wantPlans:   []string{"1", "2", "3"},
			wantRender:  []string{"1", "2", "3"},
			containsLog: "Could not cache record",
		},
		{
			name: "SecondPageSkipsCache",
			path: "/chats/" + room + "/plans?page=2",
			cache: &testcache{
				listRecords: func(t *testing.T, jid string) ([]render.Record, error) {
					t.Error("Cache consulted for page 2")
					return nil, nil
				},
			},
			db: &testdb{
				listRecords: func(t *testing.T, jid string, limit, offset int, excludeIDs ...string) ([]render.Record, error) {
					if offset != pageSize {
						t.Errorf("Got offset %d, want %d", offset, pageSize)
					}
					if len(excludeIDs) != 0 {
						t.Errorf("Got excluded ids %v", excludeIDs)
					}
					return []render.Record{chatRecord("9", 0)}, nil
				},
			},
			wantStatus: 200,
			wantPlans:  []string{"9"},
			wantRender: []string{"9"},
		},
		{
			name: "DeletedDuringRender",
			path: "/chats/" + room + "/plans",
			cache: &testcache{
				listRecords: func(t *testing.T, jid string) ([]render.Record, error) {
					return []render.Record{chatRecord("1", 0), chatRecord("2", 1)}, nil
				},
			},
			db: &testdb{
				listRecords: func(t *testing.T, jid string, limit, offset int, excludeIDs ...string) ([]render.Record, error) {
					return nil, nil
				},
				hasRecord: func(t *testing.T, jid, id string) (bool, error) {
					return id != "1", nil
				},
			},
			wantStatus: 200,
			wantPlans:  []string{"2"},
			wantRender: []string{"2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if tt.db == nil {
				tt.db = &testdb{}
			}
			tt.db.T = t
			if tt.cache == nil {
				tt.cache = &testcache{}
			}
			tt.cache.T = t
			api := &API{
				DB:       tt.db,
				Cache:    tt.cache,
				Logger:   slog.New(slog.NewTextHandler(buf, nil)),
				Val:      validator.New(),
				Renderer: &render.Renderer{Logger: slogt.New(t)},
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			if tt.wantBody != "" {
				checkBody(t, resp, tt.wantBody)
			}
			if tt.wantPlans != nil {
				checkPlans(t, resp, tt.wantPlans)
			}
			if diff := cmp.Diff(tt.wantRender, tt.cache.rendered); diff != "" {
				t.Errorf("Rendered notifications mismatch (-want +got):\n%s", diff)
			}
			checkLog(t, buf, tt.containsLog)
		})
	}
}

func TestAPI_listPlansMentions(t *testing.T) {
	rec := chatRecord("1", 0)
	rec.Text = "hi @bob"
	rec.References = []render.MentionSpan{{Begin: 3, End: 7}}

	db := &testdb{T: t, listRecords: func(t *testing.T, jid string, limit, offset int, excludeIDs ...string) ([]render.Record, error) {
		return []render.Record{rec}, nil
	}}
	cache := &testcache{
		T: t,
		listRecords: func(t *testing.T, jid string) ([]render.Record, error) {
			return nil, nil
		},
		mentionsMe: func(t *testing.T, jid, id string) (bool, error) {
			return id == "1", nil
		},
	}
	api := &API{
		DB:       db,
		Cache:    cache,
		Logger:   slogt.New(t),
		Val:      validator.New(),
		Renderer: &render.Renderer{Logger: slogt.New(t)},
	}
	srv := httptest.NewServer(api)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/chats/" + room + "/plans?nick=bob")
	if err != nil {
		t.Fatal(err)
	}
	checkStatus(t, resp.StatusCode, 200)
	plans := decodePlans(t, resp)
	if len(plans) != 1 {
		t.Fatalf("Got %d plans, want 1", len(plans))
	}
	msg := plans[0].Blocks[len(plans[0].Blocks)-1].Chat
	if !msg.HasMentions {
		t.Error("Got has_mentions false, want true")
	}
	want := []render.Segment{render.PlainText("hi "), render.Mention("@bob", true)}
	if diff := cmp.Diff(want, msg.Segments); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}
}

func TestAPI_render(t *testing.T) {
	tests := []struct {
		name       string
		req        string
		wantStatus int
		wantBody   string
		wantFields []string
		wantPlans  []string
	}{
		{
			name:       "InvalidJSON",
			req:        `not json`,
			wantStatus: 400,
			wantBody: `{
				"error": "Could not decode request body"
			}`,
		},
		{
			name: "MissingChat",
			req: `{
				"records": [{"id": "1", "time": "2024-01-01T10:00:00Z", "type": "chat", "sender": "me", "text": "hi"}]
			}`,
			wantStatus: 400,
			wantFields: []string{"Chat"},
		},
		{
			name: "InvalidRecord",
			req: `{
				"chat": {"jid": "ann@example.org"},
				"records": [{"id": "1", "time": "2024-01-01T10:00:00Z", "type": "presence", "sender": "me"}]
			}`,
			wantStatus: 400,
			wantFields: []string{"Records[0].Type"},
		},
		{
			name: "OK",
			req: `{
				"chat": {"jid": "ann@example.org", "viewer": "bob@example.org"},
				"records": [
					{"id": "1", "time": "2024-01-01T10:00:00Z", "type": "chat", "sender": "them", "text": "hi <https://example.com>"},
					{"id": "2", "time": "2024-01-01T10:01:00Z", "type": "chat", "sender": "me", "text": "gone", "dangling_retraction": true},
					{"id": "3", "time": "2024-01-01T10:02:00Z", "type": "error", "sender": "me", "text": "not delivered"}
				]
			}`,
			wantStatus: 200,
			wantPlans:  []string{"1", "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &API{
				DB:       &testdb{T: t},
				Cache:    &testcache{T: t},
				Logger:   slogt.New(t),
				Val:      validator.New(),
				Renderer: &render.Renderer{Logger: slogt.New(t)},
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			req, _ := http.NewRequest("POST", srv.URL+"/render", strings.NewReader(tt.req))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			switch {
			case tt.wantBody != "":
				checkBody(t, resp, tt.wantBody)
			case tt.wantFields != nil:
				checkFields(t, resp, tt.wantFields)
			case tt.wantPlans != nil:
				checkPlans(t, resp, tt.wantPlans)
			}
		})
	}
}

func TestAPI_renderKeepsRequestOrder(t *testing.T) {
	api := &API{
		DB:       &testdb{T: t},
		Cache:    &testcache{T: t},
		Logger:   slogt.New(t),
		Val:      validator.New(),
		Renderer: &render.Renderer{Logger: slogt.New(t)},
	}

	srv := httptest.NewServer(api)
	defer srv.Close()

	body := `{
		"chat": {"jid": "ann@example.org"},
		"records": [
			{"id": "late", "time": "2024-01-02T00:10:00Z", "type": "chat", "sender": "them", "text": "a"},
			{"id": "early", "time": "2024-01-01T23:50:00Z", "type": "chat", "sender": "them", "text": "b"}
		]
	}`
	resp, err := http.Post(srv.URL+"/render", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	checkStatus(t, resp.StatusCode, 200)

	var got []string
	for _, p := range decodePlans(t, resp) {
		var kinds []string
		for _, b := range p.Blocks {
			kinds = append(kinds, string(b.Kind))
		}
		got = append(got, p.RecordID+":"+strings.Join(kinds, ","))
	}
	want := []string{"late:day,chat", "early:day,chat"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plans mismatch (-want +got):\n%s", diff)
	}
}

func TestAPI_retryMessage(t *testing.T) {
	errorRecord := render.Record{ID: "e1", Type: render.TypeError, Sender: render.SenderMe, Text: "not delivered"}

	tests := []struct {
		name        string
		db          *testdb
		cache       *testcache
		retry       func(t *testing.T, rec *render.Record) error
		wantStatus  int
		wantBody    string
		wantRetried bool
		containsLog string
	}{
		{
			name: "NotFound",
			db: &testdb{
				getRecord: func(t *testing.T, jid, id string) (render.Record, error) {
					return render.Record{}, fmt.Errorf("select: %w", ErrNotFound)
				},
			},
			wantStatus: 404,
			wantBody: `{
				"error": "Record not found"
			}`,
		},
		{
			name: "DBError",
			db: &testdb{
				getRecord: func(t *testing.T, jid, id string) (render.Record, error) {
					return render.Record{}, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Could not get record"
			}`,
		},
		{
			name: "NotRetriable",
			db: &testdb{
				getRecord: func(t *testing.T, jid, id string) (render.Record, error) {
					return chatRecord(id, 0), nil
				},
			},
			wantStatus: 409,
			wantBody: `{
				"error": "Record cannot be retried"
			}`,
		},
		{
			name: "OK",
			db: &testdb{
				getRecord: func(t *testing.T, jid, id string) (render.Record, error) {
					if jid != room || id != "e1" {
						t.Errorf("Got %s/%s, want %s/e1", jid, id, room)
					}
					return errorRecord, nil
				},
				deleteRecord: func(t *testing.T, jid, id string) error {
					if id != "e1" {
						t.Errorf("Got deleted id %q, want e1", id)
					}
					return nil
				},
			},
			cache: &testcache{
				deleteRecord: func(t *testing.T, jid, id string) error {
					return nil
				},
			},
			retry: func(t *testing.T, rec *render.Record) error {
				return nil
			},
			wantStatus:  204,
			wantRetried: true,
		},
		{
			name: "RetryFailsStillRemoves",
			db: &testdb{
				getRecord: func(t *testing.T, jid, id string) (render.Record, error) {
					return errorRecord, nil
				},
				deleteRecord: func(t *testing.T, jid, id string) error {
					return nil
				},
			},
			cache: &testcache{
				deleteRecord: func(t *testing.T, jid, id string) error {
					return errors.New("cache down")
				},
			},
			retry: func(t *testing.T, rec *render.Record) error {
				return errors.New("queue down")
			},
			wantStatus:  204,
			wantRetried: true,
			containsLog: "Could not evict record from cache",
		},
		{
			name: "DeleteError",
			db: &testdb{
				getRecord: func(t *testing.T, jid, id string) (render.Record, error) {
					return errorRecord, nil
				},
				deleteRecord: func(t *testing.T, jid, id string) error {
					return errors.New("something went wrong")
				},
			},
			wantStatus:  500,
			wantRetried: true,
			wantBody: `{
				"error": "Could not retry record"
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.db.T = t
			if tt.cache == nil {
				tt.cache = &testcache{}
			}
			tt.cache.T = t
			retrier := &testretrier{T: t, retry: tt.retry}
			api := &API{
				DB:     tt.db,
				Cache:  tt.cache,
				Logger: slog.New(slog.NewTextHandler(buf, nil)),
				Val:    validator.New(),
				Renderer: &render.Renderer{
					Retrier: retrier,
					Logger:  slogt.New(t),
				},
			}

			srv := httptest.NewServer(api)
			defer srv.Close()

			req, _ := http.NewRequest("POST", srv.URL+"/chats/"+room+"/messages/e1/retry", nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			if tt.wantBody != "" {
				checkBody(t, resp, tt.wantBody)
			}
			if retrier.called != tt.wantRetried {
				t.Errorf("Got retried %v, want %v", retrier.called, tt.wantRetried)
			}
			checkLog(t, buf, tt.containsLog)
		})
	}
}

type testdb struct {
	T            *testing.T
	listRecords  func(t *testing.T, jid string, limit int, offset int, excludeIDs ...string) ([]render.Record, error)
	getRecord    func(t *testing.T, jid, id string) (render.Record, error)
	hasRecord    func(t *testing.T, jid, id string) (bool, error)
	deleteRecord func(t *testing.T, jid, id string) error
}

func (db *testdb) ListRecords(_ context.Context, jid string, limit int, offset int, excludeIDs ...string) ([]render.Record, error) {
	return db.listRecords(db.T, jid, limit, offset, excludeIDs...)
}

func (db *testdb) GetRecord(_ context.Context, jid, id string) (render.Record, error) {
	return db.getRecord(db.T, jid, id)
}

func (db *testdb) HasRecord(_ context.Context, jid, id string) (bool, error) {
	if db.hasRecord == nil {
		return true, nil
	}
	return db.hasRecord(db.T, jid, id)
}

func (db *testdb) DeleteRecord(_ context.Context, jid, id string) error {
	return db.deleteRecord(db.T, jid, id)
}

type testcache struct {
	T            *testing.T
	listRecords  func(t *testing.T, jid string) ([]render.Record, error)
	insertRecord func(t *testing.T, jid string, rec render.Record) error
	deleteRecord func(t *testing.T, jid, id string) error
	mentionsMe   func(t *testing.T, jid, id string) (bool, error)

	mu       sync.Mutex
	rendered []string
}

func (c *testcache) ListRecords(_ context.Context, jid string) ([]render.Record, error) {
	return c.listRecords(c.T, jid)
}

func (c *testcache) InsertRecord(_ context.Context, jid string, rec render.Record) error {
	if c.insertRecord == nil {
		return nil
	}
	return c.insertRecord(c.T, jid, rec)
}

func (c *testcache) DeleteRecord(_ context.Context, jid, id string) error {
	return c.deleteRecord(c.T, jid, id)
}

func (c *testcache) MentionsMe(_ context.Context, jid, id string) (bool, error) {
	if c.mentionsMe == nil {
		return false, nil
	}
	return c.mentionsMe(c.T, jid, id)
}

func (c *testcache) PublishRendered(_ context.Context, jid, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rendered = append(c.rendered, id)
	return nil
}

type testretrier struct {
	T      *testing.T
	called bool
	retry  func(t *testing.T, rec *render.Record) error
}

func (r *testretrier) Retry(_ context.Context, rec *render.Record) error {
	r.called = true
	if r.retry == nil {
		return nil
	}
	return r.retry(r.T, rec)
}

func checkStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("Got HTTP status %d, want %d", got, want)
	}
}

func checkBody(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	gotBody := normalizeJSON(t, resp.Body)
	wantBody := normalizeJSON(t, bytes.NewReader([]byte(want)))
	if gotBody != wantBody {
		t.Errorf("Body does not match\nGot\n  %s\n\nWant\n  %s", gotBody, wantBody)
	}
}

func checkPlans(t *testing.T, resp *http.Response, want []string) {
	t.Helper()
	var got []string
	for _, p := range decodePlans(t, resp) {
		got = append(got, p.RecordID)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plans mismatch (-want +got):\n%s", diff)
	}
}

func checkFields(t *testing.T, resp *http.Response, want []string) {
	t.Helper()
	var body struct {
		Errors []validator.ValidationError `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Could not decode errors: %v", err)
	}
	var got []string
	for _, e := range body.Errors {
		got = append(got, e.Field)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Invalid fields mismatch (-want +got):\n%s", diff)
	}
}

func decodePlans(t *testing.T, resp *http.Response) []render.Plan {
	t.Helper()
	var body struct {
		Plans []render.Plan `json:"plans"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Could not decode plans: %v", err)
	}
	return body.Plans
}

func checkLog(t *testing.T, buffer *bytes.Buffer, want string) {
	t.Helper()

	if s := buffer.String(); want != "" && !strings.Contains(s, want) {
		t.Errorf("Log does not contain  %s\n", want)
	}
}

func normalizeJSON(t *testing.T, r io.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Could not read JSON: %v", err)
	}
	if err := json.Indent(&buf, b, "  ", "  "); err != nil {
		t.Fatalf("Could not indent JSON: %v", err)
	}
	return strings.TrimSpace(buf.String())
}
