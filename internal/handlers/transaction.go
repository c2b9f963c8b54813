package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"
)

const (
	maxRetries       = 5
	defaultRetryBase = 2 * time.Second

	transactionReportSubject = "XOPAY: Transaction update error."
)

// Putter is the slice of the HTTP client the transaction handler needs.
type Putter interface {
	Put(ctx context.Context, url string, body any) (map[string]any, error)
}

// Reporter delivers admin reports.
type Reporter interface {
	Report(ctx context.Context, subject, text string)
}

// TransactionHandler pushes payment status updates to the client service.
// The queue message is acked before the update is known to succeed, so a
// failed PUT is retried in the background with exponential backoff:
// 5 retries sleeping 2, 4, 8, 16 and 32 seconds before each call.
type TransactionHandler struct {
	client     Putter
	reporter   Reporter
	clientBase string
	log        *logrus.Entry

	retryBase time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewTransactionHandler(client Putter, reporter Reporter, clientBaseURL string, log *logrus.Entry) *TransactionHandler {
	return &TransactionHandler{
		client:     client,
		reporter:   reporter,
		clientBase: clientBaseURL,
		log:        log,
		retryBase:  defaultRetryBase,
		now:        time.Now,
	}
}

// Handle processes one transaction-status message.
func (h *TransactionHandler) Handle(ctx context.Context, payload map[string]any) error {
	payID, _ := payload["id"].(string)
	payStatus, _ := payload["status"].(string)
	if payID == "" || payStatus == "" {
		h.log.Errorf("Missing required fields in transaction queue message [%v]. Skip notify!", payload)
		return nil
	}
	redirectURL, _ := payload["redirect_url"].(string)

	url := h.clientBase + "/payment/" + payID
	body := map[string]any{"status": payStatus, "redirect_url": redirectURL}

	h.log.Infof("Update payment %s status: [%s]", payID, payStatus)
	_, err := h.client.Put(ctx, url, body)
	if err == nil {
		h.log.Infof("Payment %s updated successfully with status: %s", payID, payStatus)
		return nil
	}

	h.log.Errorf("Error update payment %s status! Try again later in the background...", payID)
	h.reportError(ctx, payID, err.Error())

	h.wg.Add(1)
	go h.retryUpdate(ctx, payID, url, body, err)
	return nil
}

// Wait blocks until pending background retries finish. Used on shutdown;
// retries observe the context between sleeps so this returns promptly.
func (h *TransactionHandler) Wait() {
	h.wg.Wait()
}

func (h *TransactionHandler) retryUpdate(ctx context.Context, payID, url string, body map[string]any, initial error) {
	defer h.wg.Done()

	allErrors := []string{initial.Error()}

	// The first retry is preceded by the base sleep; retry-go then waits
	// double that, doubling again between the remaining attempts.
	if !sleepCtx(ctx, h.retryBase) {
		return
	}

	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			h.log.Infof("Update payment %s with: [%v] (attempt: %d/%d)", payID, body, attempt, maxRetries)
			_, callErr := h.client.Put(ctx, url, body)
			return callErr
		},
		retry.Attempts(maxRetries),
		retry.Delay(2*h.retryBase),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(false),
		retry.OnRetry(func(n uint, retryErr error) {
			h.log.Errorf("Error update payment %s status! (attempt: %d/%d) Retry after timeout...",
				payID, n+1, maxRetries)
		}),
	)
	if err == nil {
		h.log.Infof("Payment %s updated successfully with: [%v]", payID, body)
		return
	}
	if ctx.Err() != nil {
		return
	}

	var attemptErrors retry.Error
	if errors.As(err, &attemptErrors) {
		for _, attemptErr := range attemptErrors {
			if attemptErr != nil {
				allErrors = append(allErrors, attemptErr.Error())
			}
		}
	} else {
		allErrors = append(allErrors, err.Error())
	}

	h.log.Errorf("ERROR! Payment %s NOT UPDATED: %v", payID, body)
	problem := fmt.Sprintf("Payment NOT UPDATED after %d attempts.\n\nAll errors:\n%s\n",
		maxRetries, strings.Join(allErrors, "\n"))
	h.reportError(ctx, payID, problem)
}

func (h *TransactionHandler) reportError(ctx context.Context, payID, problem string) {
	text := fmt.Sprintf("Failed to update payment [%s] status!\n\nProblem description:\n%s\n\nCommit time (UTC): %s",
		payID, problem, h.now().UTC())
	h.reporter.Report(ctx, transactionReportSubject, text)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
