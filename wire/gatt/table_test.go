package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoUUID = "D9D9D9FB-8C28-4C5E-94E9-58C23B7C69E2"

func TestParseUUID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"canonical", demoUUID, "d9d9d9fb-8c28-4c5e-94e9-58c23b7c69e2", false},
		{"compact", "D9D9D9FB8C284C5E94E958C23B7C69E2", "d9d9d9fb-8c28-4c5e-94e9-58c23b7c69e2", false},
		{"short", "2902", "00002902-0000-1000-8000-00805f9b34fb", false},
		{"short bad hex", "29ZZ", "", true},
		{"garbage", "not-a-uuid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUUID(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidUUID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestUUIDShortAndByteOrder(t *testing.T) {
	short, ok := UUIDClientCharacteristicConfig.Short()
	assert.True(t, ok)
	assert.Equal(t, uint16(0x2902), short)

	_, ok = MustParseUUID(demoUUID).Short()
	assert.False(t, ok)

	u := MustParseUUID(demoUUID)
	le := u.LittleEndian()
	assert.Equal(t, byte(0xE2), le[0])
	assert.Equal(t, byte(0xD9), le[15])

	back, err := UUIDFromBytes(u.Bytes())
	require.NoError(t, err)
	assert.Equal(t, u, back)
}

func TestAddCharacteristic(t *testing.T) {
	svc := NewService(MustParseUUID(demoUUID), true)
	charUUID := MustParseUUID(demoUUID)

	c, err := svc.AddCharacteristic(charUUID, PropRead|PropWrite|PropNotify, PermReadable|PermWritable, []byte{0xD9})
	require.NoError(t, err)
	assert.Equal(t, charUUID, c.UUID())
	assert.Same(t, svc, c.Service())
	assert.Equal(t, []byte{0xD9}, c.Value())

	_, err = svc.AddCharacteristic(charUUID, PropRead, PermReadable, nil)
	assert.ErrorIs(t, err, ErrDuplicateUUID)

	svc.MarkRegistered(true)
	_, err = svc.AddCharacteristic(UUID16(0x2A00), PropRead, PermReadable, nil)
	assert.ErrorIs(t, err, ErrServiceRegistered)
}

func TestSetValueRequiresRegistration(t *testing.T) {
	svc := NewService(UUID16(0x180F), true)
	c, err := svc.AddCharacteristic(UUID16(0x2A19), PropRead|PropNotify, PermReadable, []byte{100})
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetValue([]byte{50}), ErrNotRegistered)
	assert.Equal(t, []byte{100}, c.Value())

	svc.MarkRegistered(true)
	input := []byte{50}
	require.NoError(t, c.SetValue(input))
	input[0] = 0
	assert.Equal(t, []byte{50}, c.Value(), "stored value must not alias caller slice")

	out := c.Value()
	out[0] = 1
	assert.Equal(t, []byte{50}, c.Value(), "returned value must be a copy")
	assert.Equal(t, 1, c.Len())
}

func TestTable(t *testing.T) {
	battery := NewService(UUID16(0x180F), true)
	level, _ := battery.AddCharacteristic(UUID16(0x2A19), PropRead, PermReadable, []byte{100})
	custom := NewService(MustParseUUID(demoUUID), true)
	_, _ = custom.AddCharacteristic(MustParseUUID(demoUUID), PropRead|PropNotify, PermReadable, []byte{0xD9})

	table, err := NewTable(battery, custom)
	require.NoError(t, err)

	assert.Equal(t, []UUID{UUID16(0x180F), MustParseUUID(demoUUID)}, table.ServiceUUIDs())
	assert.Len(t, table.Services(), 2)

	got, ok := table.Lookup(UUID16(0x2A19))
	assert.True(t, ok)
	assert.Same(t, level, got)

	_, ok = table.Lookup(UUID16(0x2A00))
	assert.False(t, ok)

	assert.False(t, table.Registered())
	battery.MarkRegistered(true)
	assert.False(t, table.Registered())
	table.MarkRegistered(true)
	assert.True(t, table.Registered())
	table.MarkRegistered(false)
	assert.False(t, custom.Registered())

	_, err = NewTable(battery, NewService(UUID16(0x180F), false))
	assert.ErrorIs(t, err, ErrDuplicateUUID)
}

func TestPropertyNames(t *testing.T) {
	p := PropRead | PropWrite | PropNotify
	assert.Equal(t, "read|write|notify", p.String())

	bit, ok := ParseProperty("indicate")
	assert.True(t, ok)
	assert.Equal(t, PropIndicate, bit)

	perm, ok := ParsePermission("writeable")
	assert.True(t, ok)
	assert.Equal(t, PermWritable, perm)
	assert.Equal(t, "readable|writable", (PermReadable | PermWritable).String())
}
