// File: internal/scrape/types_test.go
package scrape

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Collection Decoding --

func TestDecodeCases(t *testing.T) {
	body := []byte(`{"value": [{"id": "c1", "displayName": "Case One"}]}`)

	cases, err := DecodeCases(body)
	require.NoError(t, err)
	require.Len(t, cases, 1)

	want := Case{ID: "c1", DisplayName: "Case One"}
	if diff := cmp.Diff(want, cases[0]); diff != "" {
		t.Errorf("decoded case mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeCasesEmptyCollection(t *testing.T) {
	cases, err := DecodeCases([]byte(`{"value": []}`))
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestDecodeCasesRejectsMissingValueField(t *testing.T) {
	_, err := DecodeCases([]byte(`{"items": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no value field")
}

func TestDecodeCasesRejectsMalformedRecord(t *testing.T) {
	body := []byte(`{"value": [{"id": "c1", "displayName": "ok"}, {"displayName": "no id"}]}`)

	_, err := DecodeCases(body)
	require.Error(t, err)

	var malformed *MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "case", malformed.Kind)
	assert.Equal(t, 1, malformed.Index)
	assert.Contains(t, malformed.Reason, "missing id")
}

func TestDecodeCommunicationsStampsCaseID(t *testing.T) {
	body := []byte(`{"value": [{"id": "m1", "subject": "Hold notice"}]}`)

	comms, err := DecodeCommunications(body, "c1")
	require.NoError(t, err)
	require.Len(t, comms, 1)
	assert.Equal(t, "c1", comms[0].CaseID)
	assert.Equal(t, "Hold notice", comms[0].Subject)
}

// -- Template Decoding --

func TestDecodeTemplateList(t *testing.T) {
	body := []byte(`{"value": [{"id": "t1", "name": "Standard Hold"}, {"id": "t2", "name": "Release"}]}`)

	templates, err := DecodeTemplateList(body)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "t1", templates[0].ID)
	assert.Equal(t, "Release", templates[1].Name)
}

func TestDecodeTemplateDetail(t *testing.T) {
	body := []byte(`{
		"id": "t1",
		"name": "Standard Hold",
		"issuanceSubject": "You are on hold",
		"issuanceContent": "<p>Do not delete anything.</p>",
		"releaseSubject": "Hold released",
		"releaseContent": ""
	}`)

	tmpl, err := DecodeTemplateDetail(body)
	require.NoError(t, err)
	assert.Equal(t, "Standard Hold", tmpl.Name)
	assert.Equal(t, "<p>Do not delete anything.</p>", tmpl.IssuanceContent)
	assert.Empty(t, tmpl.ReleaseContent, "a blank body is kept, not rejected")
}

func TestDecodeTemplateDetailToleratesMissingName(t *testing.T) {
	// Some editor payloads omit the name; the list row supplies it.
	tmpl, err := DecodeTemplateDetail([]byte(`{"id": "t1", "issuanceContent": "<p>hold</p>"}`))
	require.NoError(t, err)
	assert.Empty(t, tmpl.Name)
	assert.Equal(t, "<p>hold</p>", tmpl.IssuanceContent)
}

func TestDecodeTemplateDetailRejectsMissingID(t *testing.T) {
	_, err := DecodeTemplateDetail([]byte(`{"name": "Standard Hold"}`))
	require.Error(t, err)

	var malformed *MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "template", malformed.Kind)
	assert.Equal(t, -1, malformed.Index)
	assert.Contains(t, malformed.Reason, "missing id")
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	_, err := DecodeCases([]byte(`<html>sign in</html>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}
