package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *StepUpManager {
	t.Helper()
	m, err := NewStepUpManager("", "")
	require.NoError(t, err)
	return m
}

func TestStepUpIssueAndVerify(t *testing.T) {
	m := newTestManager(t)

	token, exp, err := m.IssueToken("cfo@sentia", 5*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), exp, 5*time.Second)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "cfo@sentia", claims.ApproverID)
	assert.Equal(t, "step-up", claims.Purpose)
}

func TestStepUpTTLCapped(t *testing.T) {
	m := newTestManager(t)

	_, exp, err := m.IssueToken("ops@sentia", 24*time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(MaxStepUpTTL), exp, 5*time.Second)
}

func TestStepUpRejectsEmptyApprover(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.IssueToken("", time.Minute)
	assert.Error(t, err)
}

func TestStepUpRejectsForeignToken(t *testing.T) {
	m1 := newTestManager(t)
	m2 := newTestManager(t)

	token, _, err := m1.IssueToken("cfo@sentia", time.Minute)
	require.NoError(t, err)

	_, err = m2.Verify(token)
	assert.Error(t, err, "token signed by another key pair must fail")
}

func TestStepUpRejectsGarbage(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Verify("not.a.jwt")
	assert.Error(t, err)
}

func TestHashTokenRoundTrip(t *testing.T) {
	encoded, err := HashToken("super-secret-token")
	require.NoError(t, err)

	ok, err := VerifyTokenHash("super-secret-token", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyTokenHash("wrong-token", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashTokenSaltsDiffer(t *testing.T) {
	a, err := HashToken("same")
	require.NoError(t, err)
	b, err := HashToken("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "hashes must be salted")
}
