package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageID_Persist(t *testing.T) {
	id := NewProvisionalID()
	require.True(t, id.IsProvisional())
	require.NotEmpty(t, id.Value())

	persisted, err := id.Persist("srv-1")
	require.NoError(t, err)
	assert.Equal(t, KindPersisted, persisted.Kind())
	assert.Equal(t, "srv-1", persisted.Value())

	_, err = persisted.Persist("srv-2")
	assert.ErrorIs(t, err, ErrNotProvisional)

	_, err = id.Persist("")
	assert.ErrorIs(t, err, ErrEmptyServerID)
}

func TestMessageID_DistinctKinds(t *testing.T) {
	assert.NotEqual(t, ProvisionalID("42"), PersistedID("42"))
	assert.True(t, MessageID{}.IsZero())
	assert.Equal(t, "persisted:42", PersistedID("42").String())
}

func TestServerID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ServerID
		wantErr bool
	}{
		{"string", `"srv-1"`, "srv-1", false},
		{"integer", `17`, "17", false},
		{"null", `null`, "", false},
		{"object", `{}`, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got ServerID
			err := json.Unmarshal([]byte(tc.input), &got)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"chunk","content":"Hel"}`))
	require.NoError(t, err)
	assert.Equal(t, ChunkEvent{Content: "Hel"}, ev)

	ev, err = ParseEvent([]byte(`{"type":"end","ai_message":{"id":5,"content":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, "5", ev.(EndEvent).ServerID())

	ev, err = ParseEvent([]byte(`{"type":"end"}`))
	require.NoError(t, err)
	assert.Equal(t, "", ev.(EndEvent).ServerID())

	ev, err = ParseEvent([]byte(`{"type":"error","error":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, ErrorEvent{Message: "boom"}, ev)
}

func TestParseEvent_Rejects(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent([]byte(`{"type":"chunk"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent([]byte(`{"type":"start","user_message":{"id":1}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = ParseEvent([]byte(`null`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", `"2024-05-01T12:00:00Z"`, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), false},
		{"offset", `"2024-05-01T14:00:00+02:00"`, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), false},
		{"no offset", `"2024-05-01T12:00:00"`, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), false},
		{"no offset micros", `"2024-05-01T12:00:00.123456"`, time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC), false},
		{"space separated", `"2024-05-01 12:00:00"`, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), false},
		{"null", `null`, time.Time{}, false},
		{"empty", `""`, time.Time{}, false},
		{"garbage", `"yesterday"`, time.Time{}, true},
		{"number", `1714564800`, time.Time{}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got Timestamp
			err := json.Unmarshal([]byte(tc.input), &got)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got.Time), "got %s", got.Time)
		})
	}
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	data, err = json.Marshal(NewTimestamp(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-01T12:00:00Z"`, string(data))
}

// Lines as the Python backend writes them: naive isoformat times, integer ids,
// token_count and a start event ahead of the chunks.
func TestParseEvent_BackendLines(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantErr    error
		wantType   EventType
		wantServer string
	}{
		{
			name:    "start is not a reply event",
			line:    `{"type": "start", "user_message": {"id": 6, "conversation_id": 3, "role": "user", "content": "hi", "created_at": "2024-05-01T12:00:00", "token_count": null}}`,
			wantErr: ErrUnknownEvent,
		},
		{
			name:     "chunk",
			line:     `{"type": "chunk", "content": "Hel"}`,
			wantType: EventTypeChunk,
		},
		{
			name:       "end with naive created_at",
			line:       `{"type": "end", "ai_message": {"id": 7, "conversation_id": 3, "role": "assistant", "content": "Hello", "created_at": "2024-05-01T12:00:00", "token_count": null}}`,
			wantType:   EventTypeEnd,
			wantServer: "7",
		},
		{
			name:       "end with microseconds",
			line:       `{"type": "end", "ai_message": {"id": 8, "conversation_id": 3, "role": "assistant", "content": "Hi", "created_at": "2024-05-01T12:00:00.654321", "token_count": 12}}`,
			wantType:   EventTypeEnd,
			wantServer: "8",
		},
		{
			name:       "end with null created_at",
			line:       `{"type": "end", "ai_message": {"id": 9, "content": "Hi", "created_at": null}}`,
			wantType:   EventTypeEnd,
			wantServer: "9",
		},
		{
			name:       "end keeps the id when another field is unreadable",
			line:       `{"type": "end", "ai_message": {"id": 10, "content": "Hi", "created_at": "last tuesday", "role": 4}}`,
			wantType:   EventTypeEnd,
			wantServer: "10",
		},
		{
			name:     "end with an unusable record",
			line:     `{"type": "end", "ai_message": {"id": {"n": 1}}}`,
			wantType: EventTypeEnd,
		},
		{
			name:     "error",
			line:     `{"type": "error", "error": "upstream failed"}`,
			wantType: EventTypeError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tc.line))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, ev.Type())
			if end, ok := ev.(EndEvent); ok {
				assert.Equal(t, tc.wantServer, end.ServerID())
			}
		})
	}
}

func TestParseEvent_EndRecordFields(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type": "end", "ai_message": {"id": 7, "conversation_id": 3, "role": "assistant", "content": "Hello", "created_at": "2024-05-01T12:00:00", "token_count": null}}`))
	require.NoError(t, err)

	rec := ev.(EndEvent).AIMessage
	require.NotNil(t, rec)
	assert.Equal(t, ServerID("3"), rec.ConversationID)
	assert.Equal(t, RoleAssistant, rec.Role)
	assert.Equal(t, "Hello", rec.Content)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), rec.CreatedAt.Time)
}

func TestConversation_BackendPayload(t *testing.T) {
	payload := `{
		"id": 3,
		"user_id": 1,
		"title": "Trip",
		"created_at": "2024-05-01T11:59:00",
		"updated_at": null,
		"messages": [
			{"id": 6, "role": "user", "content": "hi", "created_at": "2024-05-01T12:00:00", "token_count": null},
			{"id": 7, "role": "assistant", "content": "Hello", "created_at": "2024-05-01T12:00:01.5", "token_count": 5}
		]
	}`

	var conv Conversation
	require.NoError(t, json.Unmarshal([]byte(payload), &conv))
	assert.Equal(t, ServerID("3"), conv.ID)
	assert.Equal(t, "Trip", conv.Title)
	assert.Equal(t, ServerID("1"), conv.UserID)
	assert.True(t, conv.UpdatedAt.IsZero())
	assert.Equal(t, time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC), conv.CreatedAt.Time)

	msgs := conv.Transcript()
	require.Len(t, msgs, 2)
	assert.Equal(t, PersistedID("6"), msgs[0].ID)
	assert.Equal(t, "3", msgs[1].ConversationID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 1, 500000000, time.UTC), msgs[1].CreatedAt)
}

func TestEncodeEvent_RoundTrip(t *testing.T) {
	events := []Event{
		ChunkEvent{Content: "héllo\nworld"},
		EndEvent{AIMessage: &MessageRecord{ID: "srv-9", Content: "done"}},
		ErrorEvent{Message: "boom"},
	}

	for _, ev := range events {
		line, err := EncodeEvent(ev)
		require.NoError(t, err)
		require.Equal(t, byte('\n'), line[len(line)-1])

		got, err := ParseEvent(line[:len(line)-1])
		require.NoError(t, err)
		assert.Equal(t, ev.Type(), got.Type())
	}
}

func TestValidateContent(t *testing.T) {
	assert.NoError(t, ValidateContent("hi"))
	assert.ErrorIs(t, ValidateContent(""), ErrEmptyContent)
	assert.ErrorIs(t, ValidateContent(string([]byte{0xff, 0xfe})), ErrContentEncoding)
}
