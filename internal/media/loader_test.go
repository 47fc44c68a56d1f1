package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"zchat_go/internal/domain"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchMedia(ctx context.Context, conversationID int64, kind domain.MediaKind, cursor int64) (Page[domain.MediaItem], error) {
	args := m.Called(ctx, conversationID, kind, cursor)
	return args.Get(0).(Page[domain.MediaItem]), args.Error(1)
}

func item(msgID int64, name string) domain.MediaItem {
	return domain.MediaItem{URL: "/f/" + name, Name: name, MimeType: "image/png", MessageID: msgID}
}

func TestLoaderInitialAndMore(t *testing.T) {
	f := new(MockFetcher)
	f.On("FetchMedia", mock.Anything, int64(3), domain.MediaKindImage, int64(0)).
		Return(Page[domain.MediaItem]{Items: []domain.MediaItem{item(30, "a"), item(30, "b"), item(20, "c")}, HasMore: true}, nil).Once()
	f.On("FetchMedia", mock.Anything, int64(3), domain.MediaKindImage, int64(20)).
		Return(Page[domain.MediaItem]{Items: []domain.MediaItem{item(10, "d")}, HasMore: false}, nil).Once()

	l := NewLoader(f, nil)
	require.NoError(t, l.LoadInitial(context.Background(), 3, domain.MediaKindImage))
	assert.Len(t, l.Items(), 3)
	assert.True(t, l.HasMore())

	fetched, err := l.OnItemVisible(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, fetched, "only the last item triggers")

	fetched, err = l.OnItemVisible(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, fetched)

	items := l.Items()
	require.Len(t, items, 4)
	assert.Equal(t, "d", items[3].Name)
	assert.False(t, l.HasMore())
	f.AssertExpectations(t)
}

func TestLoaderLoadMoreNoopWhenExhausted(t *testing.T) {
	f := new(MockFetcher)
	f.On("FetchMedia", mock.Anything, int64(3), domain.MediaKindFile, int64(0)).
		Return(Page[domain.MediaItem]{Items: []domain.MediaItem{item(5, "doc")}, HasMore: false}, nil).Once()

	l := NewLoader(f, nil)
	require.NoError(t, l.LoadInitial(context.Background(), 3, domain.MediaKindFile))
	before := l.Items()

	fetched, err := l.LoadMore(context.Background())
	require.NoError(t, err)
	assert.False(t, fetched)
	assert.Equal(t, before, l.Items())
	f.AssertNumberOfCalls(t, "FetchMedia", 1)
}

func TestLoaderRejectsUnknownKind(t *testing.T) {
	l := NewLoader(new(MockFetcher), nil)
	assert.ErrorIs(t, l.LoadInitial(context.Background(), 3, "audio"), domain.ErrInvalidInput)
}

func TestLoaderErrorKeepsHasMore(t *testing.T) {
	boom := errors.New("boom")
	f := new(MockFetcher)
	f.On("FetchMedia", mock.Anything, int64(3), domain.MediaKindVideo, int64(0)).
		Return(Page[domain.MediaItem]{Items: []domain.MediaItem{item(9, "v")}, HasMore: true}, nil).Once()
	f.On("FetchMedia", mock.Anything, int64(3), domain.MediaKindVideo, int64(9)).
		Return(Page[domain.MediaItem]{}, boom).Once()

	l := NewLoader(f, nil)
	require.NoError(t, l.LoadInitial(context.Background(), 3, domain.MediaKindVideo))

	fetched, err := l.LoadMore(context.Background())
	assert.True(t, fetched)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, l.Err(), boom)
	assert.True(t, l.HasMore())
	assert.False(t, l.Loading())
	assert.Len(t, l.Items(), 1)
}

func TestPagerSuppressesPendingLoadMore(t *testing.T) {
	gate := make(chan struct{})
	calls := 0
	p := NewPager(func(n int) int64 { return int64(n) }, nil)
	p.Reset(func(ctx context.Context, cursor int64) (Page[int], error) {
		calls++
		if cursor == 0 {
			return Page[int]{Items: []int{9, 8}, HasMore: true}, nil
		}
		<-gate
		return Page[int]{Items: []int{7}, HasMore: true}, nil
	})
	require.NoError(t, p.LoadInitial(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.LoadMore(context.Background())
	}()
	assert.Eventually(t, p.Loading, time.Second, 5*time.Millisecond)

	fetched, err := p.LoadMore(context.Background())
	require.NoError(t, err)
	assert.False(t, fetched)

	close(gate)
	<-done
	assert.Equal(t, []int{9, 8, 7}, p.Items())
	assert.Equal(t, 2, calls)
}

func TestPagerDropsResultAfterReset(t *testing.T) {
	gate := make(chan struct{})
	p := NewPager(func(n int) int64 { return int64(n) }, nil)
	p.Reset(func(ctx context.Context, cursor int64) (Page[int], error) {
		<-gate
		return Page[int]{Items: []int{1}, HasMore: true}, nil
	})

	done := make(chan error, 1)
	go func() { done <- p.LoadInitial(context.Background()) }()
	assert.Eventually(t, p.Loading, time.Second, 5*time.Millisecond)

	p.Reset(func(ctx context.Context, cursor int64) (Page[int], error) {
		return Page[int]{}, nil
	})
	close(gate)
	require.NoError(t, <-done)
	assert.Empty(t, p.Items())
	assert.False(t, p.HasMore())
}

func TestPagerNotStarted(t *testing.T) {
	p := NewPager(func(n int) int64 { return int64(n) }, nil)
	assert.ErrorIs(t, p.LoadInitial(context.Background()), ErrNotStarted)
}
