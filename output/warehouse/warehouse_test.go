package warehouse

import (
	"context"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/record"
)

type fakeInserter struct {
	rows []bigquery.ValueSaver
	err  error
}

func (f *fakeInserter) Put(_ context.Context, src interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, src.(bigquery.ValueSaver))
	return nil
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{ProjectID: "p", Dataset: "d", Table: "t"}
	assert.NoError(t, valid.Validate())

	for _, cfg := range []Config{
		{Dataset: "d", Table: "t"},
		{ProjectID: "p", Table: "t"},
		{ProjectID: "p", Dataset: "d"},
	} {
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	}
}

func TestSink_Deliver(t *testing.T) {
	ins := &fakeInserter{}
	sink := NewWithInserter(ins)
	assert.Equal(t, "warehouse", sink.Name())

	rec := record.Record{
		record.FieldMode:   "event",
		record.FieldOrigin: nil,
		"cmcd_key_br":      int64(3200),
	}
	ack, err := sink.Deliver(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ID)

	require.Len(t, ins.rows, 1)
	values, insertID, err := ins.rows[0].Save()
	require.NoError(t, err)
	assert.Equal(t, ack.ID, insertID)
	assert.Equal(t, map[string]bigquery.Value{
		record.FieldMode: "event",
		"cmcd_key_br":    int64(3200),
	}, values)

	require.NoError(t, sink.Close())
}

func TestSink_DeliverError(t *testing.T) {
	sink := NewWithInserter(&fakeInserter{err: errors.New("quota exceeded")})

	_, err := sink.Deliver(context.Background(), record.Record{"x": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}
