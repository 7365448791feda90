package transport

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// vehicleRecord is one vehicle's position, decoded from a GTFS-realtime
// VehiclePositions feed.
type vehicleRecord struct {
	tripID    string
	vehicleID string
	latitude  float64
	longitude float64
}

// delayRecord is one trip's next-stop arrival delay, decoded from a
// GTFS-realtime TripUpdates feed.
type delayRecord struct {
	tripID       string
	delaySeconds int32
}

// walkFields walks one protobuf message's top-level fields, calling visit for
// each (field number, wire type, raw value bytes). Submessages and strings
// arrive as their raw payload; varints and fixed32s arrive as their decoded
// uint64. Unknown wire types are skipped.
func walkFields(data []byte, visit func(num protowire.Number, typ protowire.Type, raw []byte, uval uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("consume bytes field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, v, 0); err != nil {
				return err
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("consume varint field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, nil, v); err != nil {
				return err
			}
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return fmt.Errorf("consume fixed32 field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, nil, uint64(v)); err != nil {
				return err
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return fmt.Errorf("consume fixed64 field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := visit(num, typ, nil, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("consume field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// decodeVehiclePositions extracts one vehicleRecord per FeedEntity carrying
// a VehiclePosition (field 4), per the public gtfs-realtime.proto layout.
// Entities without a vehicle position (e.g. trip updates mixed into the
// same feed) are skipped.
func decodeVehiclePositions(data []byte) ([]vehicleRecord, error) {
	var out []vehicleRecord
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num != 2 || typ != protowire.BytesType { // entity
			return nil
		}
		rec, ok, err := decodeVehicleEntity(raw)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func decodeVehicleEntity(data []byte) (vehicleRecord, bool, error) {
	var rec vehicleRecord
	var found bool
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num != 4 || typ != protowire.BytesType { // vehicle: VehiclePosition
			return nil
		}
		found = true
		return decodeVehiclePosition(raw, &rec)
	})
	return rec, found, err
}

func decodeVehiclePosition(data []byte, rec *vehicleRecord) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		switch num {
		case 1: // trip: TripDescriptor
			rec.tripID = decodeFirstStringField(raw, 1)
		case 2: // position: Position{latitude=1, longitude=2}
			return walkFields(raw, func(n protowire.Number, t protowire.Type, _ []byte, u uint64) error {
				if t != protowire.Fixed32Type {
					return nil
				}
				v := float64(math.Float32frombits(uint32(u)))
				switch n {
				case 1:
					rec.latitude = v
				case 2:
					rec.longitude = v
				}
				return nil
			})
		case 8: // vehicle: VehicleDescriptor{id=1}
			rec.vehicleID = decodeFirstStringField(raw, 1)
		}
		return nil
	})
}

// decodeFirstStringField returns the string value of wantNum inside data,
// assuming a proto3 string field (length-delimited, bytes reinterpreted as
// UTF-8). Returns "" if the field is absent or unparsable.
func decodeFirstStringField(data []byte, wantNum protowire.Number) string {
	var out string
	_ = walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num == wantNum && typ == protowire.BytesType && out == "" {
			out = string(raw)
		}
		return nil
	})
	return out
}

// decodeTripUpdates extracts one delayRecord per FeedEntity carrying a
// TripUpdate (field 3) with at least one stop_time_update.arrival.delay.
func decodeTripUpdates(data []byte) ([]delayRecord, error) {
	var out []delayRecord
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num != 2 || typ != protowire.BytesType { // entity
			return nil
		}
		rec, ok, err := decodeTripUpdateEntity(raw)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func decodeTripUpdateEntity(data []byte) (delayRecord, bool, error) {
	var rec delayRecord
	var found bool
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num != 3 || typ != protowire.BytesType { // trip_update: TripUpdate
			return nil
		}
		tripID, delay, ok, err := decodeTripUpdate(raw)
		if err != nil {
			return err
		}
		if ok {
			rec = delayRecord{tripID: tripID, delaySeconds: delay}
			found = true
		}
		return nil
	})
	return rec, found, err
}

func decodeTripUpdate(data []byte) (string, int32, bool, error) {
	var tripID string
	var delay int32
	var haveDelay bool
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		switch {
		case num == 1 && typ == protowire.BytesType: // trip: TripDescriptor
			tripID = decodeFirstStringField(raw, 1)
		case num == 2 && typ == protowire.BytesType && !haveDelay: // stop_time_update (first one)
			d, ok, err := decodeStopTimeUpdateDelay(raw)
			if err != nil {
				return err
			}
			if ok {
				delay = d
				haveDelay = true
			}
		}
		return nil
	})
	return tripID, delay, haveDelay, err
}

func decodeStopTimeUpdateDelay(data []byte) (int32, bool, error) {
	var delay int32
	var found bool
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, raw []byte, _ uint64) error {
		if num != 2 || typ != protowire.BytesType { // arrival: StopTimeEvent
			return nil
		}
		return walkFields(raw, func(n protowire.Number, t protowire.Type, _ []byte, u uint64) error {
			if n == 1 && t == protowire.VarintType {
				delay = int32(int64(u))
				found = true
			}
			return nil
		})
	})
	return delay, found, err
}
