package peripheral

import (
	"github.com/sirupsen/logrus"

	"github.com/user/peripheral-blue/wire/att"
	"github.com/user/peripheral-blue/wire/gatt"
)

// Dispatcher answers read and write requests against the attribute table.
// It never blocks and never retries; every request gets exactly one Response.
type Dispatcher struct {
	table *gatt.Table
	log   *logrus.Entry
}

// NewDispatcher creates a dispatcher over table.
func NewDispatcher(table *gatt.Table, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{table: table, log: log}
}

// Dispatch answers one request.
func (d *Dispatcher) Dispatch(req Request) Response {
	c, ok := d.table.Lookup(req.Characteristic)
	if !ok || !c.Service().Registered() {
		d.log.WithFields(logrus.Fields{
			"central":        req.Central,
			"characteristic": req.Characteristic,
		}).Debugf("%s for unknown attribute", req.Kind)
		return Response{Status: att.ErrAttributeNotFound}
	}

	switch req.Kind {
	case RequestRead:
		return d.read(c, req)
	case RequestWrite:
		return d.write(c, req)
	}
	return Response{Status: att.ErrRequestNotSupported}
}

// DispatchBatch answers every request in arrival order.
func (d *Dispatcher) DispatchBatch(reqs []Request) []Response {
	responses := make([]Response, len(reqs))
	for i, req := range reqs {
		responses[i] = d.Dispatch(req)
	}
	return responses
}

func (d *Dispatcher) read(c *gatt.Characteristic, req Request) Response {
	if !c.Permissions().CanRead() {
		return Response{Status: att.ErrReadNotPermitted}
	}
	value := c.Value()
	if req.Offset < 0 || req.Offset > len(value) {
		return Response{Status: att.ErrInvalidOffset}
	}
	return Response{Status: att.ErrSuccess, Value: value[req.Offset:]}
}

func (d *Dispatcher) write(c *gatt.Characteristic, req Request) Response {
	if !c.Permissions().CanWrite() {
		return Response{Status: att.ErrWriteNotPermitted}
	}

	value := req.Value
	if req.Offset != 0 {
		current := c.Value()
		if req.Offset < 0 || req.Offset > len(current) {
			return Response{Status: att.ErrInvalidOffset}
		}
		value = append(current[:req.Offset], req.Value...)
	}

	if err := c.SetValue(value); err != nil {
		d.log.WithError(err).Warn("write rejected by attribute table")
		return Response{Status: att.ErrAttributeNotFound}
	}
	return Response{Status: att.ErrSuccess}
}
