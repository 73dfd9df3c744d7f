package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certrelay/ledger"
	"github.com/jmcleod/certrelay/storage"
	"github.com/jmcleod/certrelay/storage/memory"
)

const (
	testCSR  = "-----BEGIN CERTIFICATE REQUEST-----\nMIIB\n-----END CERTIFICATE REQUEST-----"
	testCSR2 = "-----BEGIN CERTIFICATE REQUEST-----\nMIIC\n-----END CERTIFICATE REQUEST-----"
	testCert = "-----BEGIN CERTIFICATE-----\nMIID\n-----END CERTIFICATE-----"
	testCA   = "-----BEGIN CERTIFICATE-----\nMIIE\n-----END CERTIFICATE-----"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(memory.NewStore())
}

func TestRecordRequestAndOutstanding(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)

	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))

	outstanding, err := l.OutstandingRequests()
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	assert.Equal(t, "unit/0", outstanding[0].Unit)
	assert.Equal(t, []string{testCSR}, outstanding[0].UnitCSRs)
}

func TestOutstandingOrdering(t *testing.T) {
	l := newTestLedger(t)
	rel1, err := l.CreateRelation()
	require.NoError(t, err)
	rel2, err := l.CreateRelation()
	require.NoError(t, err)

	// Submission order within a unit, join order across units,
	// ascending relation order across relations.
	require.NoError(t, l.RecordRequest(rel2, "unit/3", testCSR))
	require.NoError(t, l.RecordRequest(rel1, "unit/1", testCSR))
	require.NoError(t, l.RecordRequest(rel1, "unit/0", testCSR))
	require.NoError(t, l.RecordRequest(rel1, "unit/1", testCSR2))

	outstanding, err := l.OutstandingRequests()
	require.NoError(t, err)
	require.Len(t, outstanding, 3)
	assert.Equal(t, "unit/1", outstanding[0].Unit)
	assert.Equal(t, []string{testCSR, testCSR2}, outstanding[0].UnitCSRs)
	assert.Equal(t, "unit/0", outstanding[1].Unit)
	assert.Equal(t, "unit/3", outstanding[2].Unit)
}

func TestOutstandingIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)
	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))

	first, err := l.OutstandingRequests()
	require.NoError(t, err)
	second, err := l.OutstandingRequests()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRecordRequestDuplicatesPreserved(t *testing.T) {
	// Re-submission of an identical CSR is intentionally not deduplicated,
	// mirroring the relation-data semantics the ledger is modeled on.
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)

	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))
	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))

	outstanding, err := l.OutstandingRequests()
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	assert.Equal(t, []string{testCSR, testCSR}, outstanding[0].UnitCSRs)
}

func TestRecordRequestReservedUnit(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)

	assert.Error(t, l.RecordRequest(relationID, "__provider", testCSR))
}

func TestAttachCertificate(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)
	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))

	chain := []string{testCA, testCert}
	require.NoError(t, l.AttachCertificate(relationID, testCSR, testCert, testCA, chain))

	// No longer outstanding.
	outstanding, err := l.OutstandingRequests()
	require.NoError(t, err)
	assert.Empty(t, outstanding)

	// Visible as a fulfilled pairing.
	units, err := l.RequestsForRelation(relationID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Len(t, units[0].Requests, 1)
	req := units[0].Requests[0]
	assert.Equal(t, testCSR, req.CertificateSigningRequest)
	require.NotNil(t, req.Certificate)
	assert.NotEmpty(t, req.Certificate.ID)
	assert.Equal(t, testCert, req.Certificate.Certificate)
	assert.Equal(t, testCA, req.Certificate.CA)
	assert.Equal(t, chain, req.Certificate.Chain)
}

func TestAttachCertificateUnknownRelation(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)
	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))

	// Matching is scoped to the relation: the CSR exists elsewhere, but the
	// relation id does not.
	err = l.AttachCertificate(relationID+100, testCSR, testCert, testCA, nil)
	assert.ErrorIs(t, err, storage.ErrRelationNotFound)

	// The existing entry is untouched.
	outstanding, err := l.OutstandingRequests()
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
}

func TestAttachCertificateReplacesOnReprovide(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)
	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))

	require.NoError(t, l.AttachCertificate(relationID, testCSR, testCert, testCA, nil))
	require.NoError(t, l.AttachCertificate(relationID, testCSR, testCert+"v2", testCA, nil))

	units, err := l.RequestsForRelation(relationID)
	require.NoError(t, err)
	require.Len(t, units[0].Requests, 1)
	assert.Equal(t, testCert+"v2", units[0].Requests[0].Certificate.Certificate)
}

func TestAttachCertificateTrimsCSR(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)
	require.NoError(t, l.RecordRequest(relationID, "unit/0", "\n"+testCSR+"\n"))

	require.NoError(t, l.AttachCertificate(relationID, testCSR+"\n", testCert, testCA, nil))

	outstanding, err := l.OutstandingRequests()
	require.NoError(t, err)
	assert.Empty(t, outstanding)
}

func TestRequestsForRelationUnknown(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.RequestsForRelation(42)
	assert.ErrorIs(t, err, storage.ErrRelationNotFound)
}

func TestRequestsForRelationMixedStates(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)
	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))
	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR2))
	require.NoError(t, l.AttachCertificate(relationID, testCSR, testCert, testCA, nil))

	units, err := l.RequestsForRelation(relationID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Len(t, units[0].Requests, 2)
	assert.NotNil(t, units[0].Requests[0].Certificate)
	assert.Nil(t, units[0].Requests[1].Certificate)
}

func TestEndRelationRemovesRequests(t *testing.T) {
	l := newTestLedger(t)
	relationID, err := l.CreateRelation()
	require.NoError(t, err)
	require.NoError(t, l.RecordRequest(relationID, "unit/0", testCSR))

	require.NoError(t, l.EndRelation(relationID))

	outstanding, err := l.OutstandingRequests()
	require.NoError(t, err)
	assert.Empty(t, outstanding)

	assert.ErrorIs(t, l.EndRelation(relationID), storage.ErrRelationNotFound)
}

func TestAttachScopedPerRelation(t *testing.T) {
	// The same CSR text outstanding in two relations: fulfilling one must
	// not fulfill the other.
	l := newTestLedger(t)
	rel1, err := l.CreateRelation()
	require.NoError(t, err)
	rel2, err := l.CreateRelation()
	require.NoError(t, err)
	require.NoError(t, l.RecordRequest(rel1, "unit/0", testCSR))
	require.NoError(t, l.RecordRequest(rel2, "unit/0", testCSR))

	require.NoError(t, l.AttachCertificate(rel1, testCSR, testCert, testCA, nil))

	outstanding, err := l.OutstandingRequests()
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	assert.Equal(t, []string{testCSR}, outstanding[0].UnitCSRs)
}
