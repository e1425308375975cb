package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"eventdedup/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestLoadDirectoryMixesJSONAndYAML(t *testing.T) {
	t.Parallel()

	snapshot, err := Load("testdata")
	require.NoError(t, err)
	require.Equal(t, []string{"NetworkSwitch-Floor2-SW1", "Server-Rack3-Unit2"}, snapshot.DeviceIDs())
	require.Len(t, snapshot.Sources(), 2)

	server, ok := snapshot.DeviceProfile("Server-Rack3-Unit2")
	require.True(t, ok)
	require.Equal(t, "Server", server.DeviceType)
	require.Equal(t, int64(300), *server.DefaultDedupWindow)

	templates := snapshot.Templates("Server-Rack3-Unit2")
	require.Len(t, templates, 4)
	require.Equal(t, "Server-Rack3-Unit2", templates[0].DeviceID)
	require.Equal(t, []string{"ShutdownServer", "NotifyAdmin"}, templates[0].Actions)
	require.Equal(t, "/redfish/v1/Chassis/1/Thermal", templates[0].OriginOfCondition)
	require.Nil(t, templates[2].DedupWindowSeconds)

	sw := snapshot.Templates("NetworkSwitch-Floor2-SW1")
	require.Len(t, sw, 2)
	require.NotNil(t, sw[0].DedupWindowSeconds)
	require.Zero(t, *sw[0].DedupWindowSeconds)
	require.Equal(t, []string{"4.2.1"}, sw[0].MessageArgs)
	require.Equal(t, "/redfish/v1/Managers/1", sw[0].OriginOfCondition)
}

func TestTemplateForPrefersMatchingOrigin(t *testing.T) {
	t.Parallel()

	snapshot := FromDevices(Device{
		Profile: domain.DeviceProfile{DeviceID: "d1"},
		Templates: []domain.Event{
			{DeviceID: "d1", MessageID: "M", OriginOfCondition: "/a", Actions: []string{"A"}},
			{DeviceID: "d1", MessageID: "M", OriginOfCondition: "/b", Actions: []string{"B"}},
		},
	})

	got, ok := snapshot.TemplateFor(domain.Event{DeviceID: "d1", MessageID: "M", OriginOfCondition: "/b"})
	require.True(t, ok)
	require.Equal(t, []string{"B"}, got.Actions)

	got, ok = snapshot.TemplateFor(domain.Event{DeviceID: "d1", MessageID: "M", OriginOfCondition: "/zzz"})
	require.True(t, ok)
	require.Equal(t, []string{"A"}, got.Actions)

	_, ok = snapshot.TemplateFor(domain.Event{DeviceID: "d1", MessageID: "Other"})
	require.False(t, ok)
	_, ok = snapshot.TemplateFor(domain.Event{DeviceID: "nope", MessageID: "M"})
	require.False(t, ok)
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing_device.json":   `{"device_name":"x"}`,
		"negative_default.json": `{"device_id":"d","default_deduplication_window":-5}`,
		"negative_event.yaml":   "device_id: d\nevents:\n  - MessageId: Alert.1.0.X\n    DeduplicationTimeWindow: -1\n",
		"foreign_event.json":    `{"device_id":"d","events":[{"MessageId":"Alert.1.0.X","DeviceId":"other"}]}`,
		"broken.yaml":           "device_id: [unterminated\n",
	}
	for name, body := range cases {
		dir := t.TempDir()
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		_, err := Load(path)
		require.Error(t, err, name)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "neg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device_id":"d","default_deduplication_window":-5}`), 0o600))
	_, err := Load(path)
	require.True(t, errors.Is(err, domain.ErrInvalidWindow))
}

func TestLoadRejectsDuplicateDevicesAcrossFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"device_id":"d"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("device_id: d\n"), 0o600))
	_, err := Load(dir)
	require.ErrorContains(t, err, "defined more than once")
}

func TestLoadAcceptsDeviceList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"device_id":"a"},{"device_id":"b","default_deduplication_window":30}]`), 0o600))
	snapshot, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, snapshot.DeviceIDs())
}

func TestCatalogReloadKeepsPreviousSnapshotOnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "dev.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device_id":"d","default_deduplication_window":30}`), 0o600))

	loads := 0
	c, err := New(path, nil, func(*Snapshot) { loads++ })
	require.NoError(t, err)
	require.Equal(t, 1, loads)

	require.NoError(t, os.WriteFile(path, []byte(`{"device_id":"d","default_deduplication_window":90}`), 0o600))
	require.NoError(t, c.Reload())
	profile, _ := c.DeviceProfile("d")
	require.Equal(t, int64(90), *profile.DefaultDedupWindow)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	require.Error(t, c.Reload())
	profile, ok := c.DeviceProfile("d")
	require.True(t, ok)
	require.Equal(t, int64(90), *profile.DefaultDedupWindow)
	require.Equal(t, 2, loads)
}

func TestCatalogWithoutPathIsEmpty(t *testing.T) {
	t.Parallel()

	c, err := New("", nil, nil)
	require.NoError(t, err)
	_, ok := c.DeviceProfile("anything")
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx, time.Millisecond))
}

func TestCatalogConcurrentReloads(t *testing.T) {
	t.Parallel()

	c, err := New("testdata", nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, c.Reload())
		}()
	}
	wg.Wait()
	require.Len(t, c.Snapshot().DeviceIDs(), 2)
}
