package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeconet/numbex/record"
)

func mkrec(t *testing.T, start, end, sip, owner, mdate string) record.Record {
	t.Helper()
	ts, err := record.ParseISODateTime(mdate)
	require.NoError(t, err)
	return record.Record{Start: start, End: end, SIP: sip, Owner: owner, Mdate: ts, Sig: "SIG"}
}

// TestPlanDisjointAdditions covers both sides adding a non-overlapping
// record each, so the plan has nothing to fix and raises no error. A
// same-key conflicting add is a genuine textual merge conflict (both
// sides write the same blob path) and is covered by the conflict
// resolver tests instead.
func TestPlanDisjointAdditions(t *testing.T) {
	r0 := mkrec(t, "+481000", "+481500", "sip", "freeconet", "2020-01-01T00:00:00.000000")
	r1 := mkrec(t, "+482500", "+483000", "sip", "freeconet", "2020-01-01T00:00:00.000000")
	self := []record.Record{r0, r1, mkrec(t, "+484000", "+484999", "sip", "freeconet", "2020-02-01T00:00:00.000000")}
	peer := []record.Record{r0, r1, mkrec(t, "+485000", "+485500", "new", "freeconet", "2020-02-03T00:00:00.000000")}

	plan, err := BuildPlan(self, peer)
	require.NoError(t, err)
	require.Empty(t, plan.NeedsFix)
}

// TestPlanInconsistentData covers one side having an older and a newer
// disjoint record while the other has a single record bridging both —
// the plan must abort.
func TestPlanInconsistentData(t *testing.T) {
	self := []record.Record{
		mkrec(t, "+481000", "+481500", "sip", "freeconet", "2020-01-01T00:00:00.000000"), // older
		mkrec(t, "+482000", "+483000", "sip", "freeconet", "2020-03-01T00:00:00.000000"), // newer
	}
	peer := []record.Record{
		mkrec(t, "+481000", "+482999", "sip", "freeconet", "2020-02-01T00:00:00.000000"), // mid, bridges both
	}

	_, err := BuildPlan(self, peer)
	require.ErrorIs(t, err, ErrInconsistentData)
}

func TestPlanIgnoresIdenticalExceptSig(t *testing.T) {
	self := []record.Record{mkrec(t, "+481000", "+481999", "sip", "freeconet", "2020-01-01T00:00:00.000000")}
	peer := []record.Record{mkrec(t, "+481000", "+481999", "sip", "freeconet", "2020-01-01T00:00:00.000000")}
	peer[0].Sig = "DIFFERENT_SIG"

	plan, err := BuildPlan(self, peer)
	require.NoError(t, err)
	require.Empty(t, plan.NeedsFix)
}

func TestPlanAdmissibleUniformlyNewer(t *testing.T) {
	self := []record.Record{mkrec(t, "+481000", "+481999", "sip", "freeconet", "2020-01-01T00:00:00.000000")}
	peer := []record.Record{mkrec(t, "+481000", "+481999", "new", "freeconet", "2020-06-01T00:00:00.000000")}

	plan, err := BuildPlan(self, peer)
	require.NoError(t, err)
	require.Len(t, plan.NeedsFix, 1)
}
