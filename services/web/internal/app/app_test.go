package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookreview/pkg/domain"
	"bookreview/pkg/mail"
	"bookreview/pkg/storage"
	"bookreview/pkg/store"
	"bookreview/services/web/internal/forms"
	"bookreview/services/web/internal/notify"
)

type fixture struct {
	app    *App
	store  *store.MemoryStore
	outbox *mail.Outbox
	covers *storage.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	sessions, err := store.NewJWTSessionStore(strings.Repeat("k", 32), time.Hour, store.NewMemoryTokenRevoker())
	require.NoError(t, err)
	outbox := &mail.Outbox{}
	covers := storage.NewMemoryStore("http://covers.test")
	notifier := notify.New(notify.Config{From: "noreply@example.com", Admins: []string{"ops@example.com"}}, s, outbox)
	a, err := New(Config{Store: s, Sessions: sessions, Events: notifier, Covers: covers})
	require.NoError(t, err)
	return &fixture{app: a, store: s, outbox: outbox, covers: covers}
}

func (f *fixture) user(t *testing.T, username string, role domain.UserRole) *domain.User {
	t.Helper()
	u := domain.User{Username: username, Email: username + "@example.com", Role: role, Status: domain.StatusActive}
	require.NoError(t, f.store.CreateUser(&u))
	return &u
}

func (f *fixture) book(t *testing.T, title, author string) domain.Book {
	t.Helper()
	b := domain.Book{Title: title, Author: author}
	require.NoError(t, f.store.CreateBook(&b))
	return b
}

func reviewForm(t *testing.T, rating int, comment string) forms.ReviewForm {
	t.Helper()
	form, err := forms.BindReview(url.Values{"rating": {strconv.Itoa(rating)}, "comment": {comment}})
	require.NoError(t, err)
	return form
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCreateReviewRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", domain.RoleUser)
	book := f.book(t, "Dune", "Herbert")

	_, err := f.app.CreateReview(context.Background(), alice, book.ID, reviewForm(t, 4, "good"))
	require.NoError(t, err)

	_, err = f.app.CreateReview(context.Background(), alice, book.ID, reviewForm(t, 2, "again"))
	ve, ok := forms.AsValidation(err)
	require.True(t, ok, "duplicate must be a validation error, got %v", err)
	assert.Equal(t, []string{forms.MsgDuplicateReview}, ve.NonFieldErrors())

	reviews, err := f.store.ListReviewsByBook(book.ID)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}

func TestCreateReviewRequiresUserAndBook(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Dune", "Herbert")
	alice := f.user(t, "alice", domain.RoleUser)

	_, err := f.app.CreateReview(context.Background(), nil, book.ID, reviewForm(t, 4, "x"))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.app.CreateReview(context.Background(), alice, 999, reviewForm(t, 4, "x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateReviewNotifiesAdmins(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", domain.RoleUser)
	book := f.book(t, "Dune", "Herbert")

	_, err := f.app.CreateReview(context.Background(), alice, book.ID, reviewForm(t, 5, "Superb."))
	require.NoError(t, err)

	msgs := f.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "New review for 'Dune' (rating: 5)", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "Reviewer: alice (alice@example.com)")
}

func TestReviewCreationSurvivesMailFailure(t *testing.T) {
	f := newFixture(t)
	f.outbox.Err = errors.New("smtp unavailable")
	alice := f.user(t, "alice", domain.RoleUser)
	book := f.book(t, "Dune", "Herbert")

	review, err := f.app.CreateReview(context.Background(), alice, book.ID, reviewForm(t, 3, "ok"))
	require.NoError(t, err)
	assert.NotZero(t, review.ID)
}

func TestAverageRating(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Dune", "Herbert")

	detail, err := f.app.BookDetail(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Nil(t, detail.Average)

	for i, rating := range []int{3, 5} {
		u := f.user(t, fmt.Sprintf("reader%d", i), domain.RoleUser)
		_, err := f.app.CreateReview(context.Background(), u, book.ID, reviewForm(t, rating, "x"))
		require.NoError(t, err)
	}
	detail, err = f.app.BookDetail(context.Background(), book.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Average)
	assert.InDelta(t, 4.0, *detail.Average, 1e-9)
	assert.Len(t, detail.Reviews, 2)
	assert.Equal(t, "reader1", detail.Reviews[0].Username)
}

func TestBookDetailNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.BookDetail(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSignUpCreatesProfileAndAttemptsWelcome(t *testing.T) {
	for _, mailErr := range []error{nil, errors.New("relay down")} {
		f := newFixture(t)
		f.outbox.Err = mailErr
		form, err := forms.BindSignup(url.Values{
			"username": {"newbie"}, "email": {"newbie@example.com"},
			"password1": {"a-long-passphrase"}, "password2": {"a-long-passphrase"},
		})
		require.NoError(t, err)

		user, outcome, err := f.app.SignUp(context.Background(), form)
		require.NoError(t, err)
		assert.Equal(t, 1, f.store.ProfileCount())
		_, ok, _ := f.store.GetProfile(user.ID)
		assert.True(t, ok)

		if mailErr == nil {
			assert.Equal(t, notify.WelcomeSent, outcome)
			require.Len(t, f.outbox.Messages(), 1)
		} else {
			assert.Equal(t, notify.WelcomeFailed, outcome)
		}
	}
}

func TestSignUpRejectsTakenUsername(t *testing.T) {
	f := newFixture(t)
	f.user(t, "taken", domain.RoleUser)
	_, _, err := f.app.SignUp(context.Background(), forms.SignupForm{Username: "taken", Email: "x@example.com", Password1: "a-long-passphrase"})
	ve, ok := forms.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, []string{forms.MsgUsernameTaken}, ve.Field("username"))
}

func TestLoginAndSessions(t *testing.T) {
	f := newFixture(t)
	form := forms.SignupForm{Username: "reader", Email: "", Password1: "a-long-passphrase"}
	_, outcome, err := f.app.SignUp(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, notify.WelcomeNoEmail, outcome)

	_, _, err = f.app.Login(context.Background(), "reader", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = f.app.Login(context.Background(), "ghost", "a-long-passphrase")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	user, token, err := f.app.Login(context.Background(), "reader", "a-long-passphrase")
	require.NoError(t, err)

	got, ok, err := f.app.UserBySession(context.Background(), token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, user.ID, got.ID)

	require.NoError(t, f.app.Logout(context.Background(), token))
	_, ok, err = f.app.UserBySession(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateReviewOnlyByAuthor(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", domain.RoleUser)
	staff := f.user(t, "staff", domain.RoleStaff)
	book := f.book(t, "Dune", "Herbert")
	review, err := f.app.CreateReview(context.Background(), alice, book.ID, reviewForm(t, 3, "ok"))
	require.NoError(t, err)
	f.outbox.Reset()

	_, err = f.app.UpdateReview(context.Background(), staff, review.ID, reviewForm(t, 1, "meh"))
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := f.app.UpdateReview(context.Background(), alice, review.ID, reviewForm(t, 5, "better on reread"))
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Rating)
	assert.Empty(t, f.outbox.Messages(), "updates do not notify")
}

func TestDeleteReviewAuthorization(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", domain.RoleUser)
	mallory := f.user(t, "mallory", domain.RoleUser)
	staff := f.user(t, "staff", domain.RoleStaff)
	book := f.book(t, "Dune", "Herbert")

	review, err := f.app.CreateReview(context.Background(), alice, book.ID, reviewForm(t, 3, "ok"))
	require.NoError(t, err)

	_, err = f.app.DeleteReview(context.Background(), mallory, review.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, ok, _ := f.store.GetReview(review.ID)
	assert.True(t, ok, "review must remain after forbidden delete")

	_, err = f.app.DeleteReview(context.Background(), staff, review.ID)
	require.NoError(t, err)
	_, ok, _ = f.store.GetReview(review.ID)
	assert.False(t, ok)

	_, err = f.app.DeleteReview(context.Background(), staff, review.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBooksSearchAndPaging(t *testing.T) {
	f := newFixture(t)
	f.book(t, "Learning Go", "Jon Bodner")
	f.book(t, "Concurrency", "Katherine Cox-Buday")
	f.book(t, "Patterns", "Mario Castro Gophers")
	f.book(t, "Go Systems", "Mihalis Tsoukalos")
	f.book(t, "Unrelated", "Someone")

	page, err := f.app.ListBooks(context.Background(), "go", "")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Books, 3)
	seen := map[uint]bool{}
	for _, b := range page.Books {
		assert.False(t, seen[b.ID], "duplicate book in results")
		seen[b.ID] = true
	}
	assert.Equal(t, "go", page.Query)

	all, err := f.app.ListBooks(context.Background(), "", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, all.NumPages)
	assert.Len(t, all.Books, 2)
	assert.True(t, all.HasPrevious())
	assert.False(t, all.HasNext())

	last, err := f.app.ListBooks(context.Background(), "", "last")
	require.NoError(t, err)
	assert.Equal(t, 2, last.Number)

	for _, bad := range []string{"3", "0", "abc"} {
		_, err := f.app.ListBooks(context.Background(), "", bad)
		assert.ErrorIs(t, err, ErrInvalidPage, bad)
	}

	empty, err := f.app.ListBooks(context.Background(), "zzz", "1")
	require.NoError(t, err)
	assert.Empty(t, empty.Books)
	assert.Equal(t, 1, empty.NumPages)
}

func TestFeaturedReturnsFirstThree(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.book(t, fmt.Sprintf("Book %d", i), "A")
	}
	books, err := f.app.Featured(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, "Book 0", books[0].Title)
}

func TestCreateSuperuser(t *testing.T) {
	f := newFixture(t)
	u, err := f.app.CreateSuperuser(context.Background(), "root", "root@example.com", "a-long-passphrase")
	require.NoError(t, err)
	assert.True(t, u.IsStaff())
	assert.Equal(t, 1, f.store.ProfileCount())

	_, err = f.app.CreateSuperuser(context.Background(), "root2", "", "123")
	ve, ok := forms.AsValidation(err)
	require.True(t, ok)
	assert.NotEmpty(t, ve.Field("password"))

	_, err = f.app.CreateSuperuser(context.Background(), "bad name", "", "a-long-passphrase")
	ve, ok = forms.AsValidation(err)
	require.True(t, ok)
	assert.NotEmpty(t, ve.Field("username"))

	_, err = f.app.CreateSuperuser(context.Background(), strings.Repeat("r", 151), "", "a-long-passphrase")
	ve, ok = forms.AsValidation(err)
	require.True(t, ok)
	assert.NotEmpty(t, ve.Field("username"))

	_, err = f.app.CreateSuperuser(context.Background(), "root", "", "a-long-passphrase")
	ve, ok = forms.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, []string{forms.MsgUsernameTaken}, ve.Field("username"))
	assert.Equal(t, 1, f.store.ProfileCount())
}
