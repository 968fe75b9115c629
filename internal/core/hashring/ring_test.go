package hashring

import (
	"fmt"
	"iter"
	"strconv"
	"sync"
	"testing"

	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/stretchr/testify/require"
)

func testKeys(n int) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; i < n; i++ {
			if !yield(fmt.Sprintf("servers.host%d.cpu.total.user", i)) {
				return
			}
		}
	}
}

func collect(t *testing.T, r *Ring, key string) []string {
	t.Helper()
	seq, err := r.GetNodes(key)
	require.NoError(t, err)
	var out []string
	for n := range seq {
		out = append(out, n)
	}
	return out
}

func TestParseHashType(t *testing.T) {
	tests := []struct {
		input     string
		want      HashType
		wantError bool
	}{
		{input: "", want: HashMD5},
		{input: "md5", want: HashMD5},
		{input: "crc32", want: HashCRC32},
		{input: "hash", want: HashXX},
		{input: "sha1", wantError: true},
		{input: "MD5", wantError: true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseHashType(tc.input)
			if tc.wantError {
				require.ErrorIs(t, err, coreerrors.ErrUnsupportedHash)
				require.ErrorIs(t, err, coreerrors.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestPositionFunctions(t *testing.T) {
	// md5("a") = 0cc175b9..., crc32("a") = e8b7be43, xxh64("") = ef46db3751d8e999
	require.Equal(t, uint16(0x0cc1), md5Position("a"))
	require.Equal(t, uint16(0xd41d), md5Position(""))
	require.Equal(t, uint16(0xbe43), crc32Position("a"))
	require.Equal(t, uint16(0xe999), xxPosition(""))
}

func TestNew_RejectsBadConfiguration(t *testing.T) {
	_, err := New([]string{"a"}, 100, HashType(42))
	require.ErrorIs(t, err, coreerrors.ErrUnsupportedHash)

	_, err = New([]string{"a"}, 0, HashMD5)
	require.ErrorIs(t, err, coreerrors.ErrConfiguration)
}

func TestEmptyRing(t *testing.T) {
	r, err := New(nil, 10, HashMD5)
	require.NoError(t, err)

	_, err = r.GetNode("metric.a")
	require.ErrorIs(t, err, coreerrors.ErrEmptyRing)

	_, err = r.GetNodes("metric.a")
	require.ErrorIs(t, err, coreerrors.ErrEmptyRing)
}

func TestAddNode_EntriesSortedAndCounted(t *testing.T) {
	for _, ht := range []HashType{HashMD5, HashCRC32, HashXX} {
		t.Run(ht.String(), func(t *testing.T) {
			r, err := New([]string{"10.0.0.1:2004", "10.0.0.2:2004", "10.0.0.3:2004"}, 100, ht)
			require.NoError(t, err)

			entries := r.Entries()
			require.Len(t, entries, 300)
			perNode := map[string]int{}
			for i, e := range entries {
				perNode[e.Node]++
				if i > 0 {
					require.LessOrEqual(t, compareEntries(entries[i-1], e), 0, "entries out of order at %d", i)
				}
			}
			for _, n := range r.Nodes() {
				require.Equal(t, 100, perNode[n])
			}

			// Re-adding a member must not duplicate entries.
			r.AddNode("10.0.0.1:2004")
			require.Len(t, r.Entries(), 300)
			require.Equal(t, 3, r.Len())
		})
	}
}

func TestGetNode_Deterministic(t *testing.T) {
	r, err := New([]string{"a", "b", "c"}, 100, HashMD5)
	require.NoError(t, err)

	first, err := r.GetNode("metric.a")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		got, err := r.GetNode("metric.a")
		require.NoError(t, err)
		require.Equal(t, first, got)
	}

	// A second ring with the same configuration agrees.
	other, err := New([]string{"c", "b", "a"}, 100, HashMD5)
	require.NoError(t, err)
	for key := range testKeys(500) {
		want, _ := r.GetNode(key)
		got, _ := other.GetNode(key)
		require.Equal(t, want, got, key)
	}
}

func TestGetNode_WrapsAround(t *testing.T) {
	r, err := New([]string{"only"}, 1, HashMD5)
	require.NoError(t, err)

	// Any key lands on the single entry, including keys hashing after it.
	for key := range testKeys(200) {
		node, err := r.GetNode(key)
		require.NoError(t, err)
		require.Equal(t, "only", node)
	}
}

func TestGetNode_Distribution(t *testing.T) {
	r, err := New([]string{"a", "b", "c"}, 100, HashMD5)
	require.NoError(t, err)

	dist := r.Distribution(testKeys(10000))
	require.Len(t, dist, 3)
	total := 0
	for node, n := range dist {
		total += n
		require.Greater(t, n, 1500, "node %s under-loaded", node)
		require.Less(t, n, 5000, "node %s over-loaded", node)
	}
	require.Equal(t, 10000, total)
}

func TestGetNodes_DistinctAndBounded(t *testing.T) {
	for _, replicas := range []int{1, 3, 100} {
		t.Run(strconv.Itoa(replicas), func(t *testing.T) {
			r, err := New([]string{"a", "b", "c", "d"}, replicas, HashCRC32)
			require.NoError(t, err)

			for key := range testKeys(300) {
				nodes := collect(t, r, key)
				require.Len(t, nodes, 4)
				seen := map[string]bool{}
				for _, n := range nodes {
					require.False(t, seen[n], "node %s yielded twice for %s", n, key)
					seen[n] = true
				}

				owner, err := r.GetNode(key)
				require.NoError(t, err)
				require.Equal(t, owner, nodes[0])
			}
		})
	}
}

func TestGetNodes_EarlyStopAndRestart(t *testing.T) {
	r, err := New([]string{"a", "b", "c"}, 50, HashMD5)
	require.NoError(t, err)

	seq, err := r.GetNodes("carbon.agents.host.cpuUsage")
	require.NoError(t, err)

	var firstTwo []string
	for n := range seq {
		firstTwo = append(firstTwo, n)
		if len(firstTwo) == 2 {
			break
		}
	}
	require.Len(t, firstTwo, 2)

	var all []string
	for n := range seq {
		all = append(all, n)
	}
	require.Len(t, all, 3)
	require.Equal(t, firstTwo, all[:2])
}

func TestGetNodes_SnapshotIsolation(t *testing.T) {
	r, err := New([]string{"a", "b"}, 10, HashMD5)
	require.NoError(t, err)

	seq, err := r.GetNodes("metric.a")
	require.NoError(t, err)
	r.AddNode("c")

	var got []string
	for n := range seq {
		got = append(got, n)
	}
	require.Len(t, got, 2)
	require.Len(t, collect(t, r, "metric.a"), 3)
}

func TestAddThenRemove_RestoresPlacement(t *testing.T) {
	r, err := New([]string{"a", "b", "c"}, 100, HashMD5)
	require.NoError(t, err)

	before := map[string]string{}
	for key := range testKeys(2000) {
		before[key], _ = r.GetNode(key)
	}
	entriesBefore := r.Entries()

	r.AddNode("d")
	require.Equal(t, 4, r.Len())
	r.RemoveNode("d")

	require.Equal(t, entriesBefore, r.Entries())
	for key, want := range before {
		got, err := r.GetNode(key)
		require.NoError(t, err)
		require.Equal(t, want, got, key)
	}
}

func TestRemoveNode_UnknownIsNoop(t *testing.T) {
	r, err := New([]string{"a"}, 10, HashMD5)
	require.NoError(t, err)
	r.RemoveNode("zzz")
	require.Equal(t, []string{"a"}, r.Nodes())
	require.Len(t, r.Entries(), 10)
}

func TestConcurrentLookupsDuringMembershipChanges(t *testing.T) {
	r, err := New([]string{"a", "b"}, 100, HashXX)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for key := range testKeys(50) {
					node, err := r.GetNode(key)
					if err != nil {
						t.Errorf("GetNode: %v", err)
						return
					}
					if node == "" {
						t.Errorf("empty node for %s", key)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		r.AddNode("c")
		r.RemoveNode("c")
	}
	close(stop)
	wg.Wait()

	require.Equal(t, []string{"a", "b"}, r.Nodes())
}
