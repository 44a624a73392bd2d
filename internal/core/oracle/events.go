package oracle

import "math/big"

// AssetPrice is one entry of an update event.
type AssetPrice struct {
	Asset Asset
	Price *big.Int
}

// UpdateEvent describes an accepted price update. Timestamp is in
// milliseconds; zero prices are omitted.
type UpdateEvent struct {
	Timestamp uint64
	Prices    []AssetPrice
}

// EventSink receives update events after they are committed. Sinks
// run outside the engine lock and must not block.
type EventSink interface {
	PublishUpdate(UpdateEvent)
}

// buildUpdateEvent prepares the event for a dense update vector.
func buildUpdateEvent(dense []*big.Int, allAssets []Asset, tsMs uint64) (UpdateEvent, error) {
	if len(allAssets) < len(dense) {
		return UpdateEvent{}, ErrAssetLimit
	}
	event := UpdateEvent{Timestamp: tsMs}
	for i, asset := range allAssets {
		if i >= len(dense) {
			break
		}
		price := dense[i]
		if price.Sign() == 0 {
			continue
		}
		event.Prices = append(event.Prices, AssetPrice{Asset: asset, Price: price})
	}
	return event, nil
}
