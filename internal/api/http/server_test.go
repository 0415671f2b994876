package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
	"torrentd/internal/profile"
)

// ---- fakes ----

type removeCall struct {
	id       domain.TorrentID
	withData bool
}

type limitCall struct {
	id     *domain.TorrentID
	limits domain.TorrentRateLimit
}

// fakeWorkflow records mutating calls. Operations not overridden fall through
// to BaseEngine and report unsupported.
type fakeWorkflow struct {
	ports.BaseEngine

	mu         sync.Mutex
	err        error
	caps       ports.CapabilitySet
	added      []domain.AddTorrent
	removed    []removeCall
	paused     []domain.TorrentID
	resumed    []domain.TorrentID
	sequential map[domain.TorrentID]bool
	limits     []limitCall
	rechecked  []domain.TorrentID
}

func (f *fakeWorkflow) AddTorrent(_ context.Context, request domain.AddTorrent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, request)
	return nil
}

func (f *fakeWorkflow) RemoveTorrent(_ context.Context, id domain.TorrentID, options domain.RemoveTorrent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, removeCall{id: id, withData: options.WithData})
	return nil
}

func (f *fakeWorkflow) PauseTorrent(_ context.Context, id domain.TorrentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeWorkflow) ResumeTorrent(_ context.Context, id domain.TorrentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeWorkflow) SetSequential(_ context.Context, id domain.TorrentID, sequential bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sequential == nil {
		f.sequential = make(map[domain.TorrentID]bool)
	}
	f.sequential[id] = sequential
	return nil
}

func (f *fakeWorkflow) UpdateLimits(_ context.Context, id *domain.TorrentID, limits domain.TorrentRateLimit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.limits = append(f.limits, limitCall{id: id, limits: limits})
	return nil
}

func (f *fakeWorkflow) Recheck(_ context.Context, id domain.TorrentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rechecked = append(f.rechecked, id)
	return nil
}

func (f *fakeWorkflow) Capabilities() ports.CapabilitySet {
	return f.caps
}

type fakeInspector struct {
	statuses []domain.TorrentStatus
	peers    []domain.PeerSnapshot
	err      error
}

func (f *fakeInspector) ListTorrents(context.Context) ([]domain.TorrentStatus, error) {
	return f.statuses, f.err
}

func (f *fakeInspector) GetTorrent(_ context.Context, id domain.TorrentID) (domain.TorrentStatus, error) {
	if f.err != nil {
		return domain.TorrentStatus{}, f.err
	}
	for _, status := range f.statuses {
		if status.ID == id {
			return status, nil
		}
	}
	return domain.TorrentStatus{}, domain.NotFound(id)
}

func (f *fakeInspector) Peers(context.Context, domain.TorrentID) ([]domain.PeerSnapshot, error) {
	return f.peers, f.err
}

type fakeProfileStore struct {
	mu     sync.Mutex
	stored *profile.Profile
	getErr error
	svErr  error
	saved  []profile.Profile
}

func (f *fakeProfileStore) Get(context.Context) (profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return profile.Profile{}, f.getErr
	}
	if f.stored == nil {
		return profile.Profile{}, domain.ErrNotFound
	}
	return *f.stored, nil
}

func (f *fakeProfileStore) Save(_ context.Context, p profile.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.svErr != nil {
		return f.svErr
	}
	f.stored = &p
	f.saved = append(f.saved, p)
	return nil
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (body: %s)", err, rec.Body.String())
	}
	return envelope.Error.Code
}

// ---- add / list / get / remove ----

func TestAddTorrent_Created(t *testing.T) {
	wf := &fakeWorkflow{}
	s := NewServer(wf)
	defer s.Close()

	rec := doJSON(t, s, http.MethodPost, "/api/torrents", addTorrentRequest{
		Magnet: "magnet:?xt=urn:btih:cafebabecafebabecafebabecafebabecafebabe",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", rec.Code, rec.Body.String())
	}
	var resp addTorrentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == uuid.Nil {
		t.Fatal("expected a minted torrent id")
	}
	if len(wf.added) != 1 {
		t.Fatalf("expected 1 add call, got %d", len(wf.added))
	}
	if wf.added[0].ID != resp.ID {
		t.Fatalf("workflow got id %s, response says %s", wf.added[0].ID, resp.ID)
	}
}

func TestAddTorrent_EmptySourceRejected(t *testing.T) {
	wf := &fakeWorkflow{}
	s := NewServer(wf)
	defer s.Close()

	rec := doJSON(t, s, http.MethodPost, "/api/torrents", addTorrentRequest{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_request" {
		t.Fatalf("error code = %q, want invalid_request", code)
	}
	if len(wf.added) != 0 {
		t.Fatal("workflow should not be called for an invalid request")
	}
}

func TestAddTorrent_InvalidJSON(t *testing.T) {
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/torrents", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAddTorrent_EngineFailure(t *testing.T) {
	id := uuid.New()
	wf := &fakeWorkflow{err: domain.OperationFailed("add_torrent", &id, context.DeadlineExceeded)}
	s := NewServer(wf)
	defer s.Close()

	rec := doJSON(t, s, http.MethodPost, "/api/torrents", addTorrentRequest{Magnet: "magnet:?xt=urn:btih:00"})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "engine_error" {
		t.Fatalf("error code = %q, want engine_error", code)
	}
}

func TestListTorrents(t *testing.T) {
	id := uuid.New()
	inspector := &fakeInspector{statuses: []domain.TorrentStatus{{ID: id, Name: "linux.iso", State: domain.StateDownloading}}}
	s := NewServer(&fakeWorkflow{}, WithInspector(inspector))
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/torrents", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list torrentList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || len(list.Items) != 1 {
		t.Fatalf("count = %d items = %d, want 1/1", list.Count, len(list.Items))
	}
	if list.Items[0].ID != id {
		t.Fatalf("item id = %s, want %s", list.Items[0].ID, id)
	}
}

func TestListTorrents_EmptyIsArray(t *testing.T) {
	s := NewServer(&fakeWorkflow{}, WithInspector(&fakeInspector{}))
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/torrents", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Fatalf("expected empty items array, got %s", rec.Body.String())
	}
}

func TestGetTorrent_NotFound(t *testing.T) {
	s := NewServer(&fakeWorkflow{}, WithInspector(&fakeInspector{}))
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/torrents/"+uuid.NewString(), nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "not_found" {
		t.Fatalf("error code = %q, want not_found", code)
	}
}

func TestGetTorrent_InvalidID(t *testing.T) {
	s := NewServer(&fakeWorkflow{}, WithInspector(&fakeInspector{}))
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/torrents/not-a-uuid", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRemoveTorrent(t *testing.T) {
	wf := &fakeWorkflow{}
	s := NewServer(wf)
	defer s.Close()

	id := uuid.New()
	rec := doJSON(t, s, http.MethodDelete, "/api/torrents/"+id.String()+"?withData=true", nil)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(wf.removed) != 1 {
		t.Fatalf("expected 1 remove call, got %d", len(wf.removed))
	}
	if wf.removed[0].id != id || !wf.removed[0].withData {
		t.Fatalf("remove call = %+v, want id %s withData", wf.removed[0], id)
	}
}

func TestRemoveTorrent_InvalidWithData(t *testing.T) {
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	rec := doJSON(t, s, http.MethodDelete, "/api/torrents/"+uuid.NewString()+"?withData=yes", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// ---- actions ----

func TestTorrentActions_PauseResumeRecheck(t *testing.T) {
	wf := &fakeWorkflow{}
	s := NewServer(wf)
	defer s.Close()

	id := uuid.New()
	for _, action := range []string{"pause", "resume", "recheck"} {
		rec := doJSON(t, s, http.MethodPost, "/api/torrents/"+id.String()+"/"+action, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s: status = %d, want 204", action, rec.Code)
		}
	}
	if len(wf.paused) != 1 || len(wf.resumed) != 1 || len(wf.rechecked) != 1 {
		t.Fatalf("calls = pause %d resume %d recheck %d, want 1 each", len(wf.paused), len(wf.resumed), len(wf.rechecked))
	}
}

func TestTorrentAction_WrongMethod(t *testing.T) {
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/torrents/"+uuid.NewString()+"/pause", nil)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestTorrentAction_Unknown(t *testing.T) {
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	rec := doJSON(t, s, http.MethodPost, "/api/torrents/"+uuid.NewString()+"/explode", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTorrentAction_UnsupportedMapsTo501(t *testing.T) {
	// fakeWorkflow does not override Reannounce, so BaseEngine reports it
	// unsupported.
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	rec := doJSON(t, s, http.MethodPost, "/api/torrents/"+uuid.NewString()+"/reannounce", nil)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "unsupported" {
		t.Fatalf("error code = %q, want unsupported", code)
	}
}

func TestSetSequential(t *testing.T) {
	wf := &fakeWorkflow{}
	s := NewServer(wf)
	defer s.Close()

	id := uuid.New()
	rec := doJSON(t, s, http.MethodPut, "/api/torrents/"+id.String()+"/sequential", sequentialRequest{Sequential: true})

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if !wf.sequential[id] {
		t.Fatal("expected sequential mode recorded for the torrent")
	}
}

func TestPerTorrentLimits(t *testing.T) {
	wf := &fakeWorkflow{}
	s := NewServer(wf)
	defer s.Close()

	id := uuid.New()
	download := int64(512 << 10)
	rec := doJSON(t, s, http.MethodPut, "/api/torrents/"+id.String()+"/limits", domain.TorrentRateLimit{DownloadBps: &download})

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(wf.limits) != 1 {
		t.Fatalf("expected 1 limits call, got %d", len(wf.limits))
	}
	call := wf.limits[0]
	if call.id == nil || *call.id != id {
		t.Fatalf("limits call id = %v, want %s", call.id, id)
	}
	if call.limits.DownloadBps == nil || *call.limits.DownloadBps != download {
		t.Fatalf("limits = %+v, want download %d", call.limits, download)
	}
}

func TestGlobalLimits(t *testing.T) {
	wf := &fakeWorkflow{}
	s := NewServer(wf)
	defer s.Close()

	upload := int64(1 << 20)
	rec := doJSON(t, s, http.MethodPut, "/api/limits", domain.TorrentRateLimit{UploadBps: &upload})

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(wf.limits) != 1 {
		t.Fatalf("expected 1 limits call, got %d", len(wf.limits))
	}
	if wf.limits[0].id != nil {
		t.Fatalf("expected session-wide call (nil id), got %v", wf.limits[0].id)
	}
}

func TestPeers(t *testing.T) {
	inspector := &fakeInspector{peers: []domain.PeerSnapshot{{Addr: "10.0.0.5:6881", DownBps: 2048}}}
	s := NewServer(&fakeWorkflow{}, WithInspector(inspector))
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/torrents/"+uuid.NewString()+"/peers", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp peersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode peers: %v", err)
	}
	if resp.Count != 1 || resp.Items[0].Addr != "10.0.0.5:6881" {
		t.Fatalf("peers = %+v, want the fake peer", resp)
	}
}

func TestCapabilities(t *testing.T) {
	wf := &fakeWorkflow{caps: ports.NewCapabilitySet(ports.CapPause, ports.CapSequential)}
	s := NewServer(wf)
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/capabilities", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp capabilitiesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode capabilities: %v", err)
	}
	if len(resp.Capabilities) != 2 {
		t.Fatalf("capabilities = %v, want 2 entries", resp.Capabilities)
	}
}

// ---- profile ----

func TestProfile_StoreNotConfigured(t *testing.T) {
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/settings/profile", nil)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestProfile_GetDefaultsWhenMissing(t *testing.T) {
	s := NewServer(&fakeWorkflow{}, WithProfileStore(&fakeProfileStore{}))
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/api/settings/profile", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp profileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if resp.Profile.Backend != string(profile.BackendStub) {
		t.Fatalf("backend = %q, want default %q", resp.Profile.Backend, profile.BackendStub)
	}
}

func TestProfile_PutSavesAndApplies(t *testing.T) {
	store := &fakeProfileStore{}
	var applied []profile.EngineRuntimeConfig
	apply := func(_ context.Context, cfg profile.EngineRuntimeConfig) error {
		applied = append(applied, cfg)
		return nil
	}
	s := NewServer(&fakeWorkflow{}, WithProfileStore(store), WithApplyProfile(apply))
	defer s.Close()

	next := profile.DefaultProfile()
	next.SequentialDefault = true
	rec := doJSON(t, s, http.MethodPut, "/api/settings/profile", next)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected 1 save, got %d", len(store.saved))
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 apply, got %d", len(applied))
	}
	if !applied[0].SequentialDefault {
		t.Fatal("expected sequential default to reach the runtime config")
	}
}

func TestProfile_PutReportsGuardRailWarnings(t *testing.T) {
	store := &fakeProfileStore{}
	s := NewServer(&fakeWorkflow{}, WithProfileStore(store))
	defer s.Close()

	bad := profile.DefaultProfile()
	port := -5
	bad.ListenPort = &port
	rec := doJSON(t, s, http.MethodPut, "/api/settings/profile", bad)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	var resp profileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if len(resp.Warnings) == 0 {
		t.Fatal("expected guard rail warnings for a negative listen port")
	}
}

// ---- misc surface ----

func TestHealthz(t *testing.T) {
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %s, want ok", rec.Body.String())
	}
}

func TestTorrents_MethodNotAllowed(t *testing.T) {
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	rec := doJSON(t, s, http.MethodPatch, "/api/torrents", nil)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
