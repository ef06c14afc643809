package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visamarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/payloads"
)

func TestOutboxSinkWritesAddressedRow(t *testing.T) {
	conn := dbtest.Open(t)
	sink, err := NewOutboxSink(conn, outbox.NewService(outbox.NewRepository(conn), logger.Nop()), logger.Nop())
	require.NoError(t, err)

	appID := uuid.New()
	agencyID := uuid.New()
	payload := &payloads.ApplicationEvent{ApplicationID: appID, Status: enums.ApplicationStatusAssigned}
	sink.Notify(context.Background(), Agency(agencyID), enums.EventApplicationAssigned, payload)
	sink.Notify(context.Background(), Admins(), enums.EventApplicationAssigned, payload)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Order("created_at ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, enums.AggregateApplication, rows[0].AggregateType)
	assert.Equal(t, appID, rows[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var decoded payloads.ApplicationEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &decoded))
	assert.Equal(t, enums.ActorRoleAgency, decoded.Recipient.Role)
	require.NotNil(t, decoded.Recipient.ID)
	assert.Equal(t, agencyID, *decoded.Recipient.ID)

	// the caller's payload is never mutated
	assert.Empty(t, payload.Recipient.Role)
}

func TestOutboxSinkSwallowsFailures(t *testing.T) {
	conn := dbtest.Open(t)
	sink, err := NewOutboxSink(conn, outbox.NewService(outbox.NewRepository(conn), logger.Nop()), logger.Nop())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		sink.Notify(context.Background(), Admins(), enums.EventApplicationAssigned, map[string]string{"x": "y"})
		sink.Notify(context.Background(), Admins(), enums.EventApplicationAssigned, &payloads.ApplicationEvent{})
	})

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestNewOutboxSinkRequiresDeps(t *testing.T) {
	_, err := NewOutboxSink(nil, nil, nil)
	require.Error(t, err)
}
