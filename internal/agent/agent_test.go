package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/clock"
	"github.com/heymatch/heymatch-api/internal/profile"
	"github.com/heymatch/heymatch-api/internal/search"
	"github.com/heymatch/heymatch-api/internal/swipe"
)

type fixedClassifier struct {
	cls Classification
	err error
}

func (f fixedClassifier) Classify(context.Context, string, []int64) (Classification, error) {
	return f.cls, f.err
}

type slowClassifier struct{}

func (slowClassifier) Classify(ctx context.Context, _ string, _ []int64) (Classification, error) {
	select {
	case <-ctx.Done():
		return Classification{}, ctx.Err()
	case <-time.After(10 * time.Second):
		return Classification{Intent: IntentSearch, Confidence: 1}, nil
	}
}

type failingSearcher struct{ calls int }

func (f *failingSearcher) Search(context.Context, string, []int64, int) ([]search.Hit, error) {
	f.calls++
	return nil, errors.New("vector db down")
}

func newDispatcher(t *testing.T, c Classifier) (*Dispatcher, *swipe.Service, *profile.MemStore) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	swipes := swipe.NewService(swipe.NewMemStore(), clk)
	profiles := profile.NewMemStore()
	searcher := &search.FixedSearcher{Candidates: []int64{2, 3, 4, 5}}
	return NewDispatcher(c, TemplateAnswerer{}, searcher, profiles, swipes), swipes, profiles
}

func TestSearchPathExcludesViewedAndSelf(t *testing.T) {
	d, swipes, _ := newDispatcher(t, fixedClassifier{cls: Classification{Intent: IntentSearch, Confidence: 0.9}})
	ctx := context.Background()

	// Caller 2 has already swiped on 3; results must skip 2 and 3.
	_, err := swipes.Swipe(ctx, 2, 3, swipe.DirectionLike)
	require.NoError(t, err)

	reply, err := d.Dispatch(ctx, Request{CallerID: 2, Utterance: "find me someone outdoorsy"})
	require.NoError(t, err)
	assert.Equal(t, ReplySearchResults, reply.Kind)
	var ids []int64
	for _, h := range reply.Results {
		ids = append(ids, h.UserID)
	}
	assert.Equal(t, []int64{4, 5}, ids)
}

func TestInquiryPathGroundsOnProfile(t *testing.T) {
	d, _, profiles := newDispatcher(t, fixedClassifier{cls: Classification{Intent: IntentInquiry, Confidence: 0.9}})
	profiles.Put(profile.Doc{UserID: 7, Name: "Ray", Summary: "climber, photographer"})

	reply, err := d.Dispatch(context.Background(), Request{
		CallerID:      1,
		Utterance:     "what do they do for fun?",
		ReferencedIDs: []int64{7},
	})
	require.NoError(t, err)
	assert.Equal(t, ReplyAnswer, reply.Kind)
	assert.Contains(t, reply.Text, "climber, photographer")
}

func TestInquiryWithoutReferenceAsksForClarification(t *testing.T) {
	d, _, _ := newDispatcher(t, fixedClassifier{cls: Classification{Intent: IntentInquiry, Confidence: 0.9}})
	reply, err := d.Dispatch(context.Background(), Request{CallerID: 1, Utterance: "how old are they?"})
	require.NoError(t, err)
	assert.Equal(t, ReplyClarification, reply.Kind)
}

func TestLowConfidenceForcesClarification(t *testing.T) {
	d, _, _ := newDispatcher(t, fixedClassifier{cls: Classification{Intent: IntentSearch, Confidence: 0.2}})
	reply, err := d.Dispatch(context.Background(), Request{CallerID: 1, Utterance: "hmm"})
	require.NoError(t, err)
	assert.Equal(t, ReplyClarification, reply.Kind)
}

func TestClassifierFailureFallsBackToCasual(t *testing.T) {
	d, _, _ := newDispatcher(t, fixedClassifier{err: errors.New("llm down")})
	reply, err := d.Dispatch(context.Background(), Request{CallerID: 1, Utterance: "hello"})
	require.NoError(t, err)
	assert.Equal(t, IntentCasual, reply.Intent)
	assert.Equal(t, ReplyCasual, reply.Kind)
}

func TestClassifierTimeoutFallsBackToCasual(t *testing.T) {
	d, _, _ := newDispatcher(t, slowClassifier{})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	reply, err := d.Dispatch(ctx, Request{CallerID: 1, Utterance: "find someone"})
	require.NoError(t, err)
	assert.Equal(t, IntentCasual, reply.Intent)
}

func TestDownstreamFailureRetriesOnceThenSurfaces(t *testing.T) {
	searcher := &failingSearcher{}
	clk := clock.NewFake(time.Now())
	swipes := swipe.NewService(swipe.NewMemStore(), clk)
	d := NewDispatcher(
		fixedClassifier{cls: Classification{Intent: IntentSearch, Confidence: 0.9}},
		TemplateAnswerer{}, searcher, profile.NewMemStore(), swipes,
	)

	_, err := d.Dispatch(context.Background(), Request{CallerID: 1, Utterance: "find someone"})
	assert.Equal(t, apperr.KindUpstreamTimeout, apperr.KindOf(err))
	assert.Equal(t, 2, searcher.calls)
}

func TestEmptyUtteranceInvalid(t *testing.T) {
	d, _, _ := newDispatcher(t, RulesClassifier{})
	_, err := d.Dispatch(context.Background(), Request{CallerID: 1})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestRulesClassifier(t *testing.T) {
	c := RulesClassifier{}
	ctx := context.Background()

	cases := []struct {
		utterance string
		refs      []int64
		want      Intent
	}{
		{"find me someone into hiking", nil, IntentSearch},
		{"looking for a climbing partner", nil, IntentSearch},
		{"tell me about this person", []int64{5}, IntentInquiry},
		{"is this person into music?", []int64{5}, IntentInquiry},
		{"nice weather today", nil, IntentCasual},
	}
	for _, tc := range cases {
		cls, err := c.Classify(ctx, tc.utterance, tc.refs)
		require.NoError(t, err)
		assert.Equal(t, tc.want, cls.Intent, "utterance: %s", tc.utterance)
		assert.GreaterOrEqual(t, cls.Confidence, minConfidence)
	}

	// Same input, same verdict.
	a, _ := c.Classify(ctx, "find me someone", nil)
	b, _ := c.Classify(ctx, "find me someone", nil)
	assert.Equal(t, a, b)
}
