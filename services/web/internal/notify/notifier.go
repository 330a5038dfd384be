// Package notify reacts to domain events with best-effort side effects:
// profile creation and transactional email. Nothing here returns an error to
// the write path that emitted the event.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"bookreview/internal/util"
	"bookreview/pkg/domain"
	"bookreview/pkg/mail"
)

// BookDetailRoute is the named route for a book's detail page.
const BookDetailRoute = "book-detail"

const welcomeSubject = "Welcome to BookReview"

// WelcomeOutcome tells the signup page what happened to the welcome email.
type WelcomeOutcome string

const (
	WelcomeSent    WelcomeOutcome = "sent"
	WelcomeFailed  WelcomeOutcome = "failed"
	WelcomeNoEmail WelcomeOutcome = "no_email"
	// WelcomeSkipped means the event was an update, not a creation.
	WelcomeSkipped WelcomeOutcome = "skipped"
)

// RouteReverser builds a path from a named route.
type RouteReverser interface {
	Reverse(name string, params ...string) (string, error)
}

// ProfileStore creates the profile row of a new user.
type ProfileStore interface {
	CreateProfile(userID uint) (domain.UserProfile, error)
}

// Config holds addresses and URLs used in notifications.
type Config struct {
	From string
	// Admins receive every new review. When empty, OperatorMailbox is used.
	Admins          []string
	OperatorMailbox string
	SiteURL         string
	Routes          RouteReverser
}

// Notifier consumes UserSaved and ReviewSaved events.
type Notifier struct {
	cfg      Config
	profiles ProfileStore
	sender   mail.Sender
}

// New builds a notifier.
func New(cfg Config, profiles ProfileStore, sender mail.Sender) *Notifier {
	cfg.SiteURL = strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/")
	return &Notifier{cfg: cfg, profiles: profiles, sender: sender}
}

// UserSaved creates the profile of a new user and sends the welcome email.
// Updates are ignored.
func (n *Notifier) UserSaved(ctx context.Context, ev domain.UserSaved) WelcomeOutcome {
	if !ev.Created {
		return WelcomeSkipped
	}
	logger := util.LoggerFromContext(ctx)
	u := ev.User

	if err := n.createProfile(u.ID); err != nil {
		logger.Error("profile creation failed", "user", u.Username, "err", err)
	} else {
		logger.Info("profile created", "user", u.Username)
	}

	email := strings.TrimSpace(u.Email)
	if email == "" {
		return WelcomeNoEmail
	}
	msg := mail.Message{
		From:    n.cfg.From,
		To:      []string{email},
		Subject: welcomeSubject,
		Body:    welcomeBody(u.Username),
	}
	if err := n.send(ctx, msg); err != nil {
		logger.Error("welcome email failed", "user", u.Username, "to", email, "err", err)
		return WelcomeFailed
	}
	logger.Info("welcome email sent", "user", u.Username, "to", email)
	return WelcomeSent
}

func (n *Notifier) createProfile(userID uint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = n.profiles.CreateProfile(userID)
	return err
}

// ReviewSaved notifies admins and the book's owners about a new review.
// Updates are ignored.
func (n *Notifier) ReviewSaved(ctx context.Context, ev domain.ReviewSaved) {
	if !ev.Created {
		return
	}
	logger := util.LoggerFromContext(ctx).With("review_id", ev.Review.ID)

	recipients := n.adminRecipients()
	if len(recipients) == 0 {
		logger.Warn("no admin recipients configured; skipping admin notification")
	}

	body := reviewBody(ev, n.cfg.SiteURL+n.bookPath(ev.Book))
	if len(recipients) > 0 {
		msg := mail.Message{
			From:    n.cfg.From,
			To:      recipients,
			Subject: fmt.Sprintf("New review for '%s' (rating: %d)", ev.Book.Title, ev.Review.Rating),
			Body:    body,
		}
		if err := n.send(ctx, msg); err != nil {
			logger.Error("admin review notification failed", "to", recipients, "err", err)
		} else {
			logger.Info("admin review notification sent", "to", recipients)
		}
	}

	owners := ev.Book.OwnerEmails()
	if len(owners) == 0 {
		return
	}
	msg := mail.Message{
		From:    n.cfg.From,
		To:      owners,
		Subject: "New review on your book: " + ev.Book.Title,
		Body:    body,
	}
	if err := n.send(ctx, msg); err != nil {
		logger.Error("owner review notification failed", "to", owners, "err", err)
		return
	}
	logger.Info("owner review notification sent", "to", owners)
}

func (n *Notifier) adminRecipients() []string {
	out := make([]string, 0, len(n.cfg.Admins))
	for _, a := range n.cfg.Admins {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		if op := strings.TrimSpace(n.cfg.OperatorMailbox); op != "" {
			out = append(out, op)
		}
	}
	return out
}

// bookPath resolves the detail path: the book's own URL builder, then the
// named route, then the literal pattern.
func (n *Notifier) bookPath(b domain.Book) string {
	if p := safePath(b.URLPath); p != "" {
		return p
	}
	if n.cfg.Routes != nil {
		if p := safePath(func() string {
			p, err := n.cfg.Routes.Reverse(BookDetailRoute, strconv.FormatUint(uint64(b.ID), 10))
			if err != nil {
				return ""
			}
			return p
		}); p != "" {
			return p
		}
	}
	return fmt.Sprintf("/books/%d/", b.ID)
}

func safePath(fn func() string) (p string) {
	defer func() {
		if recover() != nil {
			p = ""
		}
	}()
	return fn()
}

// send delivers msg and converts a panicking transport into an error.
func (n *Notifier) send(ctx context.Context, msg mail.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mail transport panic: %v", r)
		}
	}()
	if n.sender == nil {
		return fmt.Errorf("no mail sender configured")
	}
	return n.sender.Send(ctx, msg)
}

func welcomeBody(username string) string {
	return fmt.Sprintf("Hi %s,\n\n"+
		"Thanks for creating an account on BookReview. You can now browse books, "+
		"leave reviews, and rate them.\n\n"+
		"Thanks,\nThe BookReview Team", username)
}

func reviewBody(ev domain.ReviewSaved, bookURL string) string {
	email := strings.TrimSpace(ev.Author.Email)
	if email == "" {
		email = "no-email"
	}
	var b strings.Builder
	b.WriteString("A new review has been posted on BookReview.\n\n")
	fmt.Fprintf(&b, "Book: %s\n", ev.Book.Title)
	fmt.Fprintf(&b, "Author: %s\n", ev.Book.Author)
	fmt.Fprintf(&b, "Rating: %d\n", ev.Review.Rating)
	fmt.Fprintf(&b, "Comment: %s\n", ev.Review.Comment)
	fmt.Fprintf(&b, "Reviewer: %s (%s)\n\n", ev.Author.Username, email)
	fmt.Fprintf(&b, "View the book: %s\n\n", bookURL)
	b.WriteString("-- BookReview notification")
	return b.String()
}
