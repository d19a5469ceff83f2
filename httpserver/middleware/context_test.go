/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-admission/log/logtest"
)

func TestContext(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, GetRequestIDFromContext(ctx))
	require.Nil(t, GetLoggerFromContext(ctx))
	require.Nil(t, GetLoggingParamsFromContext(ctx))
	require.True(t, GetRequestStartTimeFromContext(ctx).IsZero())
	_, parked := GetQueueWaitFromContext(ctx)
	require.False(t, parked)

	logger := logtest.NewRecorder()
	lp := &LoggingParams{}
	startTime := time.Now()
	ctx = NewContextWithRequestID(ctx, "req-id")
	ctx = NewContextWithInternalRequestID(ctx, "int-req-id")
	ctx = NewContextWithLogger(ctx, logger)
	ctx = NewContextWithLoggingParams(ctx, lp)
	ctx = NewContextWithRequestStartTime(ctx, startTime)
	ctx = NewContextWithQueueWait(ctx, time.Millisecond*150)

	require.Equal(t, "req-id", GetRequestIDFromContext(ctx))
	require.Equal(t, "int-req-id", GetInternalRequestIDFromContext(ctx))
	require.Same(t, logger, GetLoggerFromContext(ctx))
	require.Same(t, lp, GetLoggingParamsFromContext(ctx))
	require.Equal(t, startTime, GetRequestStartTimeFromContext(ctx))
	queueWait, parked := GetQueueWaitFromContext(ctx)
	require.True(t, parked)
	require.Equal(t, time.Millisecond*150, queueWait)
}
