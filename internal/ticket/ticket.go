// Package ticket issues the short identifiers used for tickets and team codes
// and hands confirmed tickets to the notification dispatcher.
package ticket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/eventreg/internal/notify"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
)

// codeBytes random bytes give 6 uppercase hex characters.
const codeBytes = 3

// maxCodeAttempts bounds collision retries for one code.
const maxCodeAttempts = 10

// ErrCodeSpaceExhausted is returned when every attempt collided.
var ErrCodeSpaceExhausted = errors.New("could not generate a unique code")

// Generator produces candidate codes.
type Generator func() (string, error)

// NewCode returns 6 random uppercase hex characters.
func NewCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// UniqueCode draws codes from gen until taken reports one as free.
func UniqueCode(ctx context.Context, gen Generator, taken func(context.Context, string) (bool, error)) (string, error) {
	if gen == nil {
		gen = NewCode
	}
	for range maxCodeAttempts {
		code, err := gen()
		if err != nil {
			return "", err
		}
		exists, err := taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// Issuer assigns ticket ids inside the admission transaction and announces
// tickets once that transaction has committed.
type Issuer struct {
	gen      Generator
	notifier *notify.Notifier
}

// NewIssuer constructs an Issuer. A nil gen uses NewCode; a nil notifier
// drops announcements.
func NewIssuer(gen Generator, notifier *notify.Notifier) *Issuer {
	if gen == nil {
		gen = NewCode
	}
	return &Issuer{gen: gen, notifier: notifier}
}

// Issue returns a ticket id not held by any registration. The unique index
// on ticket_id still guards against a concurrent transaction picking the
// same id; that surfaces as repository.ErrConflict and the admission retries.
func (i *Issuer) Issue(ctx context.Context, tx repository.Tx) (string, error) {
	return UniqueCode(ctx, i.gen, tx.TicketExists)
}

// Announce hands tickets to the notifier without waiting for delivery.
func (i *Issuer) Announce(ctx context.Context, tickets ...notify.Ticket) {
	if i.notifier == nil || len(tickets) == 0 {
		return
	}
	i.notifier.Dispatch(ctx, tickets...)
}
