package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/gmail/v1"
)

func receiptMessage(from, subject string) *gmail.Message {
	return &gmail.Message{
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
			},
		},
	}
}

func TestConfirmsSubmission_CompanyReceipt(t *testing.T) {
	msgs := []*gmail.Message{
		receiptMessage("Newsletter <news@jobboard.com>", "10 new jobs for you"),
		receiptMessage("Acme Recruiting <no-reply@acme.com>", "Thank you for applying to Acme"),
	}

	confirmed, subject := ConfirmsSubmission(msgs, "Acme")
	assert.True(t, confirmed)
	assert.Equal(t, "Thank you for applying to Acme", subject)
}

func TestConfirmsSubmission_WrongCompany(t *testing.T) {
	msgs := []*gmail.Message{
		receiptMessage("Globex <jobs@globex.com>", "Your application has... wait"),
		receiptMessage("Globex <jobs@globex.com>", "Application received"),
	}

	confirmed, _ := ConfirmsSubmission(msgs, "Acme")
	assert.False(t, confirmed, "a receipt from a different company proves nothing")
}

func TestConfirmsSubmission_NoCompanyKnown(t *testing.T) {
	msgs := []*gmail.Message{
		receiptMessage("Someone <a@b.com>", "Application received"),
	}

	confirmed, _ := ConfirmsSubmission(msgs, "")
	assert.True(t, confirmed, "with no company on record any receipt counts")
}

func TestConfirmsSubmission_NoReceipts(t *testing.T) {
	msgs := []*gmail.Message{
		receiptMessage("Acme <hr@acme.com>", "Interview availability"),
		nil,
		&gmail.Message{},
	}

	confirmed, _ := ConfirmsSubmission(msgs, "Acme")
	assert.False(t, confirmed)
}

func TestEmailVerifier_DisabledFetchesNothing(t *testing.T) {
	var verifier *EmailVerifier
	assert.False(t, verifier.Enabled())

	verifier = &EmailVerifier{}
	assert.False(t, verifier.Enabled())

	msgs, err := verifier.FetchRecent(context.Background(), ConfirmationQuery, 20)
	assert.NoError(t, err)
	assert.Nil(t, msgs)
}
