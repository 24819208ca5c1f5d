package sync

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sproutlog/sproutlog/internal/model"
	"github.com/sproutlog/sproutlog/internal/sproutsdk"
)

type repoFixture struct {
	*fixture
	feed *fakeFeed
	repo *Repository
}

func newRepoFixture(t *testing.T, online bool) *repoFixture {
	t.Helper()
	f := newFixture(online)
	feed := newFakeFeed()
	repo := NewRepository(f.local(), f.remote(), f.queue, f.net, f.engine, feed, f.tracker)
	repo.userID = testUser
	return &repoFixture{fixture: f, feed: feed, repo: repo}
}

func TestCreateChildOnline(t *testing.T) {
	rf := newRepoFixture(t, true)

	child, err := rf.repo.CreateChild(context.Background(), model.Child{Name: "June", BirthDate: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.NotEmpty(t, child.ID)
	assert.Equal(t, testUser, child.UserID)

	// visible locally and on the server, nothing pending
	got, err := rf.repo.GetChild(child.ID)
	require.NoError(t, err)
	assert.Equal(t, "June", got.Name)
	assert.Contains(t, rf.childRemote.children, child.ID)
	assert.Zero(t, rf.queue.len())
}

func TestCreateChildOfflineQueues(t *testing.T) {
	rf := newRepoFixture(t, false)

	child, err := rf.repo.CreateChild(context.Background(), model.Child{Name: "June"})
	require.NoError(t, err)

	// read-your-writes: the record is local immediately
	_, err = rf.repo.GetChild(child.ID)
	require.NoError(t, err)
	assert.Empty(t, rf.childRemote.children)

	item, ok := rf.queue.get(model.EntityChild, child.ID)
	require.True(t, ok)
	assert.Equal(t, model.OpUpsert, item.Op)
}

func TestCreateChildTransientFailureQueues(t *testing.T) {
	rf := newRepoFixture(t, true)
	rf.childRemote.createErr = &errFor{err: apiError(http.StatusBadGateway, sproutsdk.CodeInternalError)}

	child, err := rf.repo.CreateChild(context.Background(), model.Child{Name: "June"})
	require.NoError(t, err)

	_, err = rf.repo.GetChild(child.ID)
	require.NoError(t, err)
	_, queued := rf.queue.get(model.EntityChild, child.ID)
	assert.True(t, queued)
}

func TestCreateChildRejectionSurfaces(t *testing.T) {
	rf := newRepoFixture(t, true)
	rf.childRemote.createErr = &errFor{err: apiError(http.StatusBadRequest, sproutsdk.CodeInvalidRequest)}

	child, err := rf.repo.CreateChild(context.Background(), model.Child{Name: "June"})
	require.Error(t, err)
	assert.Nil(t, child)
	// the rejection is not queued for pointless retries
	assert.Zero(t, rf.queue.len())
}

func TestCreateDiaryEntryOnlineMarksSynced(t *testing.T) {
	rf := newRepoFixture(t, true)

	entry, err := rf.repo.CreateDiaryEntry(context.Background(), model.DiaryEntry{ChildID: "c1", Title: "nap", Body: "two hours"})
	require.NoError(t, err)
	assert.True(t, entry.IsSynced)

	stored, err := rf.repo.GetDiaryEntry(entry.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSynced)
	assert.Contains(t, rf.diaryRemote.entries, entry.ID)
}

func TestUpdateDiaryEntryResetsSyncFlag(t *testing.T) {
	rf := newRepoFixture(t, false)
	require.NoError(t, rf.diaryLocal.Upsert(testEntry("d1", "c1", true)))

	entry, err := rf.diaryLocal.GetByID("d1")
	require.NoError(t, err)
	entry.Body = "edited offline"
	require.NoError(t, rf.repo.UpdateDiaryEntry(context.Background(), entry))

	stored, err := rf.repo.GetDiaryEntry("d1")
	require.NoError(t, err)
	assert.False(t, stored.IsSynced)
	assert.Equal(t, "edited offline", stored.Body)
	_, queued := rf.queue.get(model.EntityDiary, "d1")
	assert.True(t, queued)
}

func TestDeleteDiaryEntryOnlineRemoteFirst(t *testing.T) {
	rf := newRepoFixture(t, true)
	require.NoError(t, rf.diaryLocal.Upsert(testEntry("d1", "c1", true)))
	rf.diaryRemote.entries["d1"] = testEntry("d1", "c1", true)

	require.NoError(t, rf.repo.DeleteDiaryEntry(context.Background(), "d1"))

	_, err := rf.repo.GetDiaryEntry("d1")
	assert.Error(t, err)
	assert.NotContains(t, rf.diaryRemote.entries, "d1")
	assert.Zero(t, rf.queue.len())
}

func TestDeleteDiaryEntryRejectionKeepsLocal(t *testing.T) {
	rf := newRepoFixture(t, true)
	require.NoError(t, rf.diaryLocal.Upsert(testEntry("d1", "c1", true)))
	rf.diaryRemote.deleteErr = &errFor{err: apiError(http.StatusForbidden, sproutsdk.CodeAccessDenied)}

	err := rf.repo.DeleteDiaryEntry(context.Background(), "d1")
	require.Error(t, err)

	// a record the server refuses to delete is not silently dropped locally
	_, err = rf.repo.GetDiaryEntry("d1")
	assert.NoError(t, err)
}

func TestDeleteDiaryEntryOfflineQueuesDelete(t *testing.T) {
	rf := newRepoFixture(t, false)
	require.NoError(t, rf.diaryLocal.Upsert(testEntry("d1", "c1", true)))

	require.NoError(t, rf.repo.DeleteDiaryEntry(context.Background(), "d1"))

	_, err := rf.repo.GetDiaryEntry("d1")
	assert.Error(t, err)
	item, ok := rf.queue.get(model.EntityDiary, "d1")
	require.True(t, ok)
	assert.Equal(t, model.OpDelete, item.Op)
}

func TestOfflineEditThenDeleteCollapsesToDelete(t *testing.T) {
	rf := newRepoFixture(t, false)
	require.NoError(t, rf.diaryLocal.Upsert(testEntry("d1", "c1", true)))

	entry, err := rf.diaryLocal.GetByID("d1")
	require.NoError(t, err)
	require.NoError(t, rf.repo.UpdateDiaryEntry(context.Background(), entry))
	require.NoError(t, rf.repo.DeleteDiaryEntry(context.Background(), "d1"))

	// one queue slot per record, the later op wins
	assert.Equal(t, 1, rf.queue.len())
	item, ok := rf.queue.get(model.EntityDiary, "d1")
	require.True(t, ok)
	assert.Equal(t, model.OpDelete, item.Op)
}

func TestCreateMediaRecordOffline(t *testing.T) {
	rf := newRepoFixture(t, false)

	record, err := rf.repo.CreateMediaRecord(context.Background(), model.MediaRecord{ChildID: "c1", Kind: model.MediaPhoto, FileName: "nap.jpg", SizeBytes: 52_000})
	require.NoError(t, err)
	assert.False(t, record.IsUploaded)

	item, ok := rf.queue.get(model.EntityMedia, record.ID)
	require.True(t, ok)
	assert.Equal(t, model.OpUpsert, item.Op)
}

func TestMergeEventUpsertsAsSynced(t *testing.T) {
	rf := newRepoFixture(t, true)

	records, err := jsonMarshalEntries([]model.DiaryEntry{testEntry("d9", "c1", false)})
	require.NoError(t, err)
	err = rf.repo.mergeEvent(&sproutsdk.RemoteEvent{EntityType: model.EntityDiary, ParentID: "c1", Records: records})
	require.NoError(t, err)

	entry, err := rf.diaryLocal.GetByID("d9")
	require.NoError(t, err)
	assert.True(t, entry.IsSynced)
}

func TestMergeEventSkipsDirtyLocalRecord(t *testing.T) {
	rf := newRepoFixture(t, true)
	local := testEntry("d1", "c1", false)
	local.Body = "local edit not yet pushed"
	require.NoError(t, rf.diaryLocal.Upsert(local))

	remote := testEntry("d1", "c1", true)
	remote.Body = "older server copy"
	records, err := jsonMarshalEntries([]model.DiaryEntry{remote})
	require.NoError(t, err)
	err = rf.repo.mergeEvent(&sproutsdk.RemoteEvent{EntityType: model.EntityDiary, ParentID: "c1", Records: records})
	require.NoError(t, err)

	entry, err := rf.diaryLocal.GetByID("d1")
	require.NoError(t, err)
	assert.Equal(t, "local edit not yet pushed", entry.Body)
	assert.False(t, entry.IsSynced)
}

func TestMergeEventSkipsQueuedRecord(t *testing.T) {
	rf := newRepoFixture(t, true)
	require.NoError(t, rf.queue.Enqueue(model.SyncItem{EntityType: model.EntityChild, EntityID: "c1", Op: model.OpDelete}))

	records, err := jsonMarshalChildren([]model.Child{testChildModel("c1")})
	require.NoError(t, err)
	err = rf.repo.mergeEvent(&sproutsdk.RemoteEvent{EntityType: model.EntityChild, ParentID: testUser, Records: records})
	require.NoError(t, err)

	// the pending local delete wins over the server echo
	_, err = rf.repo.GetChild("c1")
	assert.Error(t, err)
}

func TestMergeLoopAppliesFeedEvents(t *testing.T) {
	rf := newRepoFixture(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rf.repo.Start(ctx, testUser)
	defer rf.repo.Stop()

	records, err := jsonMarshalChildren([]model.Child{testChildModel("c7")})
	require.NoError(t, err)
	rf.feed.ch <- &sproutsdk.RemoteEvent{EntityType: model.EntityChild, ParentID: testUser, Records: records}

	require.Eventually(t, func() bool {
		_, err := rf.repo.GetChild("c7")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestRepositoryStatus(t *testing.T) {
	rf := newRepoFixture(t, true)
	require.NoError(t, rf.queue.Enqueue(model.SyncItem{EntityType: model.EntityDiary, EntityID: "d1", Op: model.OpUpsert}))
	require.NoError(t, rf.queue.Enqueue(model.SyncItem{EntityType: model.EntityMedia, EntityID: "m1", Op: model.OpUpsert}))
	rf.tracker.SetLastSync(testUser, time.Now().UTC())

	status, err := rf.repo.Status()
	require.NoError(t, err)
	assert.Equal(t, model.NetworkConnected, status.Network)
	assert.Equal(t, 1, status.Pending[model.EntityDiary])
	assert.Equal(t, 1, status.Pending[model.EntityMedia])
	assert.False(t, status.LastSync.IsZero())
	assert.False(t, status.AutoSync)
}

func TestSyncNowFlushesOfflineBacklog(t *testing.T) {
	rf := newRepoFixture(t, false)

	entry, err := rf.repo.CreateDiaryEntry(context.Background(), model.DiaryEntry{ChildID: "c1", Title: "offline note"})
	require.NoError(t, err)

	// connectivity returns and the user hits sync
	rf.net.setState(model.NetworkConnected)
	result, err := rf.repo.SyncNow(context.Background())
	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Drained)

	assert.Contains(t, rf.diaryRemote.entries, entry.ID)
	stored, err := rf.repo.GetDiaryEntry(entry.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSynced)
	assert.Zero(t, rf.queue.len())
}
