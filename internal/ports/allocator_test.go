package ports

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeResolver struct {
	pid int32
	err error
}

func (f fakeResolver) ListenerPID(int) (int32, error) {
	return f.pid, f.err
}

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// freePort returns a port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, port := listen(t)
	ln.Close()
	return port
}

func newTestAllocator(resolver PIDResolver) *Allocator {
	return New(Config{
		DialTimeout: 500 * time.Millisecond,
		EvictGrace:  500 * time.Millisecond,
		Resolver:    resolver,
	})
}

func TestIsFree(t *testing.T) {
	a := newTestAllocator(fakeResolver{})

	ln, port := listen(t)
	assert.False(t, a.IsFree(port), "listening port must be occupied")

	ln.Close()
	assert.True(t, a.IsFree(port), "closed port must be free")
}

func TestIsFree_OutOfRange(t *testing.T) {
	a := newTestAllocator(fakeResolver{})
	assert.False(t, a.IsFree(0))
	assert.False(t, a.IsFree(70000))
}

func TestFindAvailable_BaseFree(t *testing.T) {
	a := newTestAllocator(fakeResolver{})
	base := freePort(t)

	port, ok := a.FindAvailable(base, 5)
	require.True(t, ok)
	assert.Equal(t, base, port)
}

func TestFindAvailable_BaseOccupied(t *testing.T) {
	a := newTestAllocator(fakeResolver{})
	_, base := listen(t)

	port, ok := a.FindAvailable(base, 5)
	require.True(t, ok)
	assert.Greater(t, port, base)
	assert.Less(t, port, base+5)
}

func TestFindAvailable_Exhausted(t *testing.T) {
	a := newTestAllocator(fakeResolver{})
	_, base := listen(t)

	_, ok := a.FindAvailable(base, 1)
	assert.False(t, ok)
}

func TestEvict(t *testing.T) {
	originalKill := killProcess
	defer func() { killProcess = originalKill }()

	t.Run("already free", func(t *testing.T) {
		a := newTestAllocator(fakeResolver{err: errors.New("unused")})
		assert.True(t, a.Evict(freePort(t), true))
	})

	t.Run("owner unresolvable", func(t *testing.T) {
		_, port := listen(t)
		a := newTestAllocator(fakeResolver{err: errors.New("permission denied")})
		assert.False(t, a.Evict(port, true))
	})

	t.Run("own pid is never signalled", func(t *testing.T) {
		_, port := listen(t)
		signalled := false
		killProcess = func(int, unix.Signal) error { signalled = true; return nil }

		a := newTestAllocator(fakeResolver{pid: int32(os.Getpid())})
		assert.False(t, a.Evict(port, true))
		assert.False(t, signalled)
	})

	t.Run("without force only reports", func(t *testing.T) {
		_, port := listen(t)
		signalled := false
		killProcess = func(int, unix.Signal) error { signalled = true; return nil }

		a := newTestAllocator(fakeResolver{pid: 4242})
		assert.False(t, a.Evict(port, false))
		assert.False(t, signalled)
	})

	t.Run("forced eviction releases the port", func(t *testing.T) {
		ln, port := listen(t)
		var gotPID int
		var gotSig unix.Signal
		killProcess = func(pid int, sig unix.Signal) error {
			gotPID, gotSig = pid, sig
			ln.Close()
			return nil
		}

		a := newTestAllocator(fakeResolver{pid: 4242})
		assert.True(t, a.Evict(port, true))
		assert.Equal(t, 4242, gotPID)
		assert.Equal(t, unix.SIGTERM, gotSig)
	})

	t.Run("owner ignores signal", func(t *testing.T) {
		_, port := listen(t)
		killProcess = func(int, unix.Signal) error { return nil }

		a := newTestAllocator(fakeResolver{pid: 4242})
		start := time.Now()
		assert.False(t, a.Evict(port, true))
		assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
	})
}

func TestGopsutilResolver(t *testing.T) {
	r := &GopsutilResolver{connections: func(string) ([]psnet.ConnectionStat, error) {
		return []psnet.ConnectionStat{
			{Status: "ESTABLISHED", Laddr: psnet.Addr{Port: 9000}, Pid: 1},
			{Status: "LISTEN", Laddr: psnet.Addr{Port: 9001}, Pid: 2},
			{Status: "LISTEN", Laddr: psnet.Addr{Port: 9000}, Pid: 3},
			{Status: "LISTEN", Laddr: psnet.Addr{Port: 9002}, Pid: 0},
		}, nil
	}}

	pid, err := r.ListenerPID(9000)
	require.NoError(t, err)
	assert.Equal(t, int32(3), pid)

	_, err = r.ListenerPID(9002)
	assert.Error(t, err)

	_, err = r.ListenerPID(9999)
	assert.Error(t, err)
}
