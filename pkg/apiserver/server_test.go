package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeLock is a minimal LockManager fake exercising the §8 S1 lock
// contention scenario without a live Redis instance.
type fakeLock struct {
	owner map[string]string // host/device -> user_id
}

type fakeTakeControlError struct {
	errType string
	owner   string
}

func (e *fakeTakeControlError) Error() string      { return e.errType }
func (e *fakeTakeControlError) ErrorType() string   { return e.errType }
func (e *fakeTakeControlError) OwnerUserID() string { return e.owner }

func (f *fakeLock) TakeControl(ctx context.Context, hostName, deviceID, sessionID, userID, treeID string) error {
	key := hostName + "/" + deviceID
	if f.owner == nil {
		f.owner = map[string]string{}
	}
	if existing, ok := f.owner[key]; ok {
		return &fakeTakeControlError{errType: "device_locked", owner: existing}
	}
	f.owner[key] = userID
	return nil
}

func (f *fakeLock) ReleaseControl(ctx context.Context, hostName, deviceID, sessionID string) error {
	delete(f.owner, hostName+"/"+deviceID)
	return nil
}

func (f *fakeLock) Heartbeat(ctx context.Context, hostName, deviceID, sessionID string) error {
	if _, ok := f.owner[hostName+"/"+deviceID]; !ok {
		return errors.New("lease_expired")
	}
	return nil
}

func (f *fakeLock) Get(ctx context.Context, hostName, deviceID string) (*LeaseView, error) {
	if u, ok := f.owner[hostName+"/"+deviceID]; ok {
		return &LeaseView{UserID: u}, nil
	}
	return nil, nil
}

// TestTakeControl_LockContention mirrors §8 scenario S1.
func TestTakeControl_LockContention(t *testing.T) {
	lock := &fakeLock{}
	r := New(Deps{Lock: lock})

	body := `{"host_name":"h1","device_id":"d1","session_id":"s_A","user_id":"u_A"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/server/control/takeControl", bytes.NewBufferString(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("user A takeControl: got %d, body %s", w.Code, w.Body.String())
	}

	bodyB := `{"host_name":"h1","device_id":"d1","session_id":"s_B","user_id":"u_B"}`
	w2 := httptest.NewRecorder()
	reqB := httptest.NewRequest(http.MethodPost, "/server/control/takeControl", bytes.NewBufferString(bodyB))
	r.ServeHTTP(w2, reqB)
	if w2.Code != http.StatusConflict {
		t.Fatalf("user B takeControl: got %d, want 409", w2.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["error_type"] != "device_locked" {
		t.Errorf("error_type = %v, want device_locked", resp["error_type"])
	}
	if resp["user_id"] != "u_A" {
		t.Errorf("user_id = %v, want u_A (never a session id)", resp["user_id"])
	}

	releaseBody := `{"host_name":"h1","device_id":"d1","session_id":"s_A"}`
	w3 := httptest.NewRecorder()
	reqRelease := httptest.NewRequest(http.MethodPost, "/server/control/releaseControl", bytes.NewBufferString(releaseBody))
	r.ServeHTTP(w3, reqRelease)
	if w3.Code != http.StatusOK {
		t.Fatalf("release: got %d", w3.Code)
	}

	w4 := httptest.NewRecorder()
	reqB2 := httptest.NewRequest(http.MethodPost, "/server/control/takeControl", bytes.NewBufferString(bodyB))
	r.ServeHTTP(w4, reqB2)
	if w4.Code != http.StatusOK {
		t.Fatalf("user B retry after release: got %d, body %s", w4.Code, w4.Body.String())
	}
}

type fakeTreeStore struct {
	trees map[string]navtree.Tree
	byUI  map[string]string
}

func newFakeTreeStore() *fakeTreeStore {
	return &fakeTreeStore{trees: map[string]navtree.Tree{}, byUI: map[string]string{}}
}

func (f *fakeTreeStore) GetTreeByUserInterfaceID(uiID string) (*navtree.Tree, error) {
	treeID, ok := f.byUI[uiID]
	if !ok {
		return nil, nil
	}
	t := f.trees[treeID]
	return &t, nil
}

func (f *fakeTreeStore) SaveTree(tree navtree.Tree) error {
	f.trees[tree.TreeID] = tree
	if tree.UserInterfaceID != "" {
		f.byUI[tree.UserInterfaceID] = tree.TreeID
	}
	return nil
}

// TestSaveTreeThenGetByUserInterfaceID exercises the read-your-writes
// round-trip invariant (§8 invariant 2, simplified to the store layer).
func TestSaveTreeThenGetByUserInterfaceID(t *testing.T) {
	store := newFakeTreeStore()
	r := New(Deps{Trees: store})

	saveBody := `{"userinterface_id":"ui1","tree_data":{"tree_id":"t1","nodes":{},"edges":{}}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/server/navigationTrees/saveTree", bytes.NewBufferString(saveBody))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("saveTree: got %d, body %s", w.Code, w.Body.String())
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/server/navigationTrees/getTreeByUserInterfaceId/ui1", nil)
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("getTreeByUserInterfaceId: got %d, body %s", w2.Code, w2.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["success"] != true {
		t.Errorf("success = %v", resp["success"])
	}
}

// fakePathfinder resolves one canned path and reports no_path otherwise.
type fakePathfinder struct {
	path *PathView
}

func (f *fakePathfinder) Find(treeID, fromNodeID, toNodeID string) (*PathView, error) {
	if f.path != nil && fromNodeID == "home" {
		return f.path, nil
	}
	return nil, util.ErrNoPath
}

func TestFindPath(t *testing.T) {
	finder := &fakePathfinder{path: &PathView{
		Hops: []PathHop{{
			EdgeID:      "home-settings",
			ActionSetID: "open",
			Actions:     []ActionRequest{{Command: "click_element", Params: map[string]any{"id": "Settings"}}},
		}},
		TerminalNode:  "settings",
		PassCondition: "all",
	}}
	r := New(Deps{Paths: finder})

	body := `{"tree_id":"t1","from_node_id":"home","to_node_id":"settings"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/server/navigation/findPath", bytes.NewBufferString(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("findPath: got %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool     `json:"success"`
		Path    PathView `json:"path"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Path.Hops) != 1 || resp.Path.Hops[0].ActionSetID != "open" {
		t.Errorf("path = %+v", resp.Path)
	}

	// Unreachable destination surfaces no_path as a 404, not a retry.
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/server/navigation/findPath", bytes.NewBufferString(`{"tree_id":"t1","from_node_id":"nowhere","to_node_id":"settings"}`))
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusNotFound {
		t.Fatalf("no_path: got %d, want 404", w2.Code)
	}
}

// TestUnconfiguredDependencyReturns503 exercises the nil-dependency
// fallback used when a binary wires only a subset of the routes.
func TestUnconfiguredDependencyReturns503(t *testing.T) {
	r := New(Deps{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/server/control/takeControl", bytes.NewBufferString(`{}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", w.Code)
	}
}
