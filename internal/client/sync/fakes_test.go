package sync

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sproutlog/sproutlog/internal/localstore"
	"github.com/sproutlog/sproutlog/internal/model"
	"github.com/sproutlog/sproutlog/internal/sproutsdk"
)

func jsonMarshalChildren(children []model.Child) (json.RawMessage, error) {
	return json.Marshal(children)
}

func jsonMarshalEntries(entries []model.DiaryEntry) (json.RawMessage, error) {
	return json.Marshal(entries)
}

// --- local store fakes ---

type fakeChildLocal struct {
	mu       sync.Mutex
	children map[string]model.Child
}

func newFakeChildLocal() *fakeChildLocal {
	return &fakeChildLocal{children: make(map[string]model.Child)}
}

func (f *fakeChildLocal) GetByID(id string) (model.Child, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	child, ok := f.children[id]
	if !ok {
		return model.Child{}, localstore.ErrNotFound
	}
	return child, nil
}

func (f *fakeChildLocal) GetByParent(userID string) ([]model.Child, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Child
	for _, child := range f.children {
		if child.UserID == userID {
			out = append(out, child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeChildLocal) Upsert(child model.Child) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children[child.ID] = child
	return nil
}

func (f *fakeChildLocal) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.children, id)
	return nil
}

func (f *fakeChildLocal) ObserveByParent(string) (<-chan []model.Child, func()) {
	ch := make(chan []model.Child, 1)
	return ch, func() { close(ch) }
}

type fakeDiaryLocal struct {
	mu      sync.Mutex
	entries map[string]model.DiaryEntry
}

func newFakeDiaryLocal() *fakeDiaryLocal {
	return &fakeDiaryLocal{entries: make(map[string]model.DiaryEntry)}
}

func (f *fakeDiaryLocal) GetByID(id string) (model.DiaryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return model.DiaryEntry{}, localstore.ErrNotFound
	}
	return entry, nil
}

func (f *fakeDiaryLocal) GetByParent(childID string) ([]model.DiaryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DiaryEntry
	for _, entry := range f.entries {
		if entry.ChildID == childID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDiaryLocal) GetUnsynced() ([]model.DiaryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DiaryEntry
	for _, entry := range f.entries {
		if !entry.IsSynced {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDiaryLocal) Upsert(entry model.DiaryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.ID] = entry
	return nil
}

func (f *fakeDiaryLocal) MarkSynced(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return localstore.ErrNotFound
	}
	entry.IsSynced = true
	f.entries[id] = entry
	return nil
}

func (f *fakeDiaryLocal) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

func (f *fakeDiaryLocal) ObserveByParent(string) (<-chan []model.DiaryEntry, func()) {
	ch := make(chan []model.DiaryEntry, 1)
	return ch, func() { close(ch) }
}

type fakeMediaLocal struct {
	mu      sync.Mutex
	records map[string]model.MediaRecord
}

func newFakeMediaLocal() *fakeMediaLocal {
	return &fakeMediaLocal{records: make(map[string]model.MediaRecord)}
}

func (f *fakeMediaLocal) GetByID(id string) (model.MediaRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return model.MediaRecord{}, localstore.ErrNotFound
	}
	return record, nil
}

func (f *fakeMediaLocal) GetByParent(childID string) ([]model.MediaRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.MediaRecord
	for _, record := range f.records {
		if record.ChildID == childID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMediaLocal) GetUnsynced() ([]model.MediaRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.MediaRecord
	for _, record := range f.records {
		if !record.IsUploaded {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMediaLocal) Upsert(record model.MediaRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.ID] = record
	return nil
}

func (f *fakeMediaLocal) MarkSynced(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return localstore.ErrNotFound
	}
	record.IsUploaded = true
	f.records[id] = record
	return nil
}

func (f *fakeMediaLocal) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeMediaLocal) ObserveByParent(string) (<-chan []model.MediaRecord, func()) {
	ch := make(chan []model.MediaRecord, 1)
	return ch, func() { close(ch) }
}

// --- remote fakes ---

// errFor lets a test inject a failure for one specific id, or "" for all.
type errFor struct {
	id  string
	err error
}

func (e *errFor) match(id string) error {
	if e == nil || e.err == nil {
		return nil
	}
	if e.id == "" || e.id == id {
		return e.err
	}
	return nil
}

type fakeChildRemote struct {
	mu        sync.Mutex
	children  map[string]model.Child
	updateErr *errFor
	createErr *errFor
	deleteErr *errFor
	listErr   error
	blockOn   chan struct{}

	inFlight     int
	peakInFlight int
}

func newFakeChildRemote() *fakeChildRemote {
	return &fakeChildRemote{children: make(map[string]model.Child)}
}

// enter and exit bracket a remote write so tests can assert how many ran
// concurrently.
func (f *fakeChildRemote) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peakInFlight {
		f.peakInFlight = f.inFlight
	}
	f.mu.Unlock()
}

func (f *fakeChildRemote) exit() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeChildRemote) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peakInFlight
}

func (f *fakeChildRemote) inflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func (f *fakeChildRemote) block(ctx context.Context) {
	if f.blockOn != nil {
		select {
		case <-f.blockOn:
		case <-ctx.Done():
		}
	}
}

func (f *fakeChildRemote) Create(ctx context.Context, child model.Child) (*model.Child, error) {
	f.enter()
	defer f.exit()
	f.block(ctx)
	if err := f.createErr.match(child.ID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children[child.ID] = child
	return &child, nil
}

func (f *fakeChildRemote) ListByParent(ctx context.Context, userID string) ([]model.Child, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Child
	for _, child := range f.children {
		if child.UserID == userID {
			out = append(out, child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeChildRemote) Update(ctx context.Context, child model.Child) error {
	f.enter()
	defer f.exit()
	f.block(ctx)
	if err := f.updateErr.match(child.ID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.children[child.ID]; !ok {
		return sproutsdk.ErrNotFound
	}
	f.children[child.ID] = child
	return nil
}

func (f *fakeChildRemote) Delete(ctx context.Context, id string) error {
	if err := f.deleteErr.match(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.children, id)
	return nil
}

type fakeDiaryRemote struct {
	mu        sync.Mutex
	entries   map[string]model.DiaryEntry
	updateErr *errFor
	createErr *errFor
	deleteErr *errFor
	listErr   error
}

func newFakeDiaryRemote() *fakeDiaryRemote {
	return &fakeDiaryRemote{entries: make(map[string]model.DiaryEntry)}
}

func (f *fakeDiaryRemote) Create(ctx context.Context, entry model.DiaryEntry) (*model.DiaryEntry, error) {
	if err := f.createErr.match(entry.ID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.ID] = entry
	return &entry, nil
}

func (f *fakeDiaryRemote) ListByParent(ctx context.Context, childID string) ([]model.DiaryEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DiaryEntry
	for _, entry := range f.entries {
		if entry.ChildID == childID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDiaryRemote) Update(ctx context.Context, entry model.DiaryEntry) error {
	if err := f.updateErr.match(entry.ID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[entry.ID]; !ok {
		return sproutsdk.ErrNotFound
	}
	f.entries[entry.ID] = entry
	return nil
}

func (f *fakeDiaryRemote) Delete(ctx context.Context, id string) error {
	if err := f.deleteErr.match(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

type fakeMediaRemote struct {
	mu        sync.Mutex
	records   map[string]model.MediaRecord
	updateErr *errFor
	createErr *errFor
	deleteErr *errFor
	listErr   error
}

func newFakeMediaRemote() *fakeMediaRemote {
	return &fakeMediaRemote{records: make(map[string]model.MediaRecord)}
}

func (f *fakeMediaRemote) Create(ctx context.Context, record model.MediaRecord) (*model.MediaRecord, error) {
	if err := f.createErr.match(record.ID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.ID] = record
	return &record, nil
}

func (f *fakeMediaRemote) ListByParent(ctx context.Context, childID string) ([]model.MediaRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.MediaRecord
	for _, record := range f.records {
		if record.ChildID == childID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMediaRemote) Update(ctx context.Context, record model.MediaRecord) error {
	if err := f.updateErr.match(record.ID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.ID]; !ok {
		return sproutsdk.ErrNotFound
	}
	f.records[record.ID] = record
	return nil
}

func (f *fakeMediaRemote) Delete(ctx context.Context, id string) error {
	if err := f.deleteErr.match(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

// --- queue fake ---

type fakeQueue struct {
	mu    sync.Mutex
	items map[string]model.SyncItem
	seq   int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{items: make(map[string]model.SyncItem)}
}

func (q *fakeQueue) Enqueue(item model.SyncItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.EnqueuedAt.IsZero() {
		q.seq++
		item.EnqueuedAt = time.Unix(int64(q.seq), 0)
	}
	if prev, ok := q.items[item.Key()]; ok && prev.RetryCount > item.RetryCount {
		item.RetryCount = prev.RetryCount
	}
	q.items[item.Key()] = item
	return nil
}

func (q *fakeQueue) Remove(entityType model.EntityType, entityID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, model.SyncItem{EntityType: entityType, EntityID: entityID}.Key())
	return nil
}

func (q *fakeQueue) BumpRetry(entityType model.EntityType, entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := model.SyncItem{EntityType: entityType, EntityID: entityID}.Key()
	item, ok := q.items[key]
	if !ok {
		return 0, nil
	}
	item.RetryCount++
	q.items[key] = item
	return item.RetryCount, nil
}

func (q *fakeQueue) Snapshot() ([]model.SyncItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.SyncItem, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (q *fakeQueue) Stats() (map[model.EntityType]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := make(map[model.EntityType]int)
	for _, item := range q.items {
		stats[item.EntityType]++
	}
	return stats, nil
}

func (q *fakeQueue) get(entityType model.EntityType, entityID string) (model.SyncItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[model.SyncItem{EntityType: entityType, EntityID: entityID}.Key()]
	return item, ok
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// --- network fake ---

type fakeNetwork struct {
	mu    sync.Mutex
	state model.NetworkState
	subs  []chan model.NetworkState
}

func newFakeNetwork(online bool) *fakeNetwork {
	state := model.NetworkDisconnected
	if online {
		state = model.NetworkConnected
	}
	return &fakeNetwork{state: state}
}

func (n *fakeNetwork) State() model.NetworkState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *fakeNetwork) Connected() bool {
	return n.State() == model.NetworkConnected
}

func (n *fakeNetwork) Subscribe() (<-chan model.NetworkState, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan model.NetworkState, 4)
	n.subs = append(n.subs, ch)

	unsubscribe := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, sub := range n.subs {
			if sub == ch {
				close(sub)
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe
}

func (n *fakeNetwork) setState(state model.NetworkState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = state
	for _, ch := range n.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

// --- event feed fake ---

type fakeFeed struct {
	ch chan *sproutsdk.RemoteEvent
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan *sproutsdk.RemoteEvent, 8)}
}

func (f *fakeFeed) Get() <-chan *sproutsdk.RemoteEvent {
	return f.ch
}

// --- fixture ---

type fixture struct {
	childLocal  *fakeChildLocal
	diaryLocal  *fakeDiaryLocal
	mediaLocal  *fakeMediaLocal
	childRemote *fakeChildRemote
	diaryRemote *fakeDiaryRemote
	mediaRemote *fakeMediaRemote
	queue       *fakeQueue
	net         *fakeNetwork
	tracker     *Tracker
	engine      *Engine
}

func newFixture(online bool, opts ...EngineOption) *fixture {
	f := &fixture{
		childLocal:  newFakeChildLocal(),
		diaryLocal:  newFakeDiaryLocal(),
		mediaLocal:  newFakeMediaLocal(),
		childRemote: newFakeChildRemote(),
		diaryRemote: newFakeDiaryRemote(),
		mediaRemote: newFakeMediaRemote(),
		queue:       newFakeQueue(),
		net:         newFakeNetwork(online),
		tracker:     NewTracker(),
	}
	opts = append([]EngineOption{WithDrainDelay(time.Millisecond)}, opts...)
	f.engine = NewEngine(f.local(), f.remote(), f.queue, f.net, f.tracker, opts...)
	return f
}

func (f *fixture) local() Local {
	return Local{Children: f.childLocal, Diary: f.diaryLocal, Media: f.mediaLocal}
}

func (f *fixture) remote() Remote {
	return Remote{Children: f.childRemote, Diary: f.diaryRemote, Media: f.mediaRemote}
}

func apiError(status int, code string) error {
	return &sproutsdk.APIError{Status: status, Code: code, Message: "test"}
}
