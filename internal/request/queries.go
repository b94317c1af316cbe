package request

import (
	"context"
	"time"

	"github.com/ghalamif/AegisAgent/internal/buffer"
	"github.com/ghalamif/AegisAgent/internal/domain"
)

type ProbeRequest struct {
	Device string
}

type ProbeResponse struct {
	Header  Header           `json:"header"`
	Devices []*domain.Device `json:"devices"`
}

// Probe returns the device model, or one device of it.
func (p *Processor) Probe(req ProbeRequest) (resp ProbeResponse, err error) {
	defer func(start time.Time) { p.observe("probe", start, err) }(time.Now())
	defer p.guard("probe", &err)

	devices := p.model.Devices()
	if req.Device != "" {
		d, ok := p.model.Device(req.Device)
		if !ok {
			return ProbeResponse{}, domain.NewError(domain.KindNoDevice, "could not find the device %q", req.Device)
		}
		devices = []*domain.Device{d}
	}
	return ProbeResponse{Header: p.liveHeader(), Devices: devices}, nil
}

type CurrentRequest struct {
	Device      string
	At          *uint64
	DataItemIDs []string
}

type CurrentResponse struct {
	Header Header `json:"header"`
	// Sequence is the last sequence reflected in the state.
	Sequence     uint64                `json:"sequence"`
	Observations []*domain.Observation `json:"observations"`
	Assets       []*domain.Asset       `json:"assets,omitempty"`
}

// Current returns the state of every data item in scope, either now or as of
// a buffered sequence.
func (p *Processor) Current(req CurrentRequest) (resp CurrentResponse, err error) {
	defer func(start time.Time) { p.observe("current", start, err) }(time.Now())
	defer p.guard("current", &err)

	filter, items, err := p.scope(req.Device, req.DataItemIDs)
	if err != nil {
		return CurrentResponse{}, err
	}

	var snap buffer.Snapshot
	if req.At != nil {
		if snap, err = p.store.StateAt(*req.At, filter); err != nil {
			return CurrentResponse{}, err
		}
	} else {
		snap = p.store.Snapshot(filter)
	}

	resp = CurrentResponse{
		Header:   p.header(snap.FirstSequence, snap.LastSequence, snap.NextSequence),
		Sequence: snap.Sequence,
	}
	for _, item := range items {
		resp.Observations = append(resp.Observations, snap.Items[item.ID].Observations()...)
	}
	if req.At == nil {
		q := buffer.AssetQuery{}
		if req.Device != "" {
			d, _ := p.model.Device(req.Device)
			q.DeviceUUID = d.UUID
		}
		resp.Assets = p.assets.Query(q)
	}
	return resp, nil
}

type SampleRequest struct {
	Device      string
	DataItemIDs []string
	// From defaults to the first buffered sequence for a single response and
	// to the next sequence for a stream.
	From      *uint64
	Count     int
	Interval  time.Duration
	Heartbeat time.Duration
}

type SampleResponse struct {
	Header       Header                `json:"header"`
	Observations []*domain.Observation `json:"observations"`
	// EndSequence is the 'from' of the following request.
	EndSequence uint64 `json:"endSequence"`
}

// Empty reports whether the response is a keep-alive without observations.
func (r SampleResponse) Empty() bool { return len(r.Observations) == 0 }

// Sample returns one window of the history. Without From it starts at the
// next sequence, so only the header and EndSequence are meaningful.
func (p *Processor) Sample(req SampleRequest) (resp SampleResponse, err error) {
	defer func(start time.Time) { p.observe("sample", start, err) }(time.Now())
	defer p.guard("sample", &err)

	filter, _, err := p.scope(req.Device, req.DataItemIDs)
	if err != nil {
		return SampleResponse{}, err
	}
	count, err := p.count(req.Count)
	if err != nil {
		return SampleResponse{}, err
	}
	from := p.store.Stats().NextSequence
	if req.From != nil {
		from = *req.From
	}
	w, err := p.store.Scan(from, count, filter)
	if err != nil {
		return SampleResponse{}, err
	}
	return p.window(w), nil
}

func (p *Processor) window(w buffer.Window) SampleResponse {
	return SampleResponse{
		Header:       p.header(w.FirstSequence, w.LastSequence, w.NextSequence),
		Observations: w.Observations,
		EndSequence:  w.EndSequence,
	}
}

// Stream pushes windows to emit until ctx is done, emit fails or the cursor
// falls out of the buffer. A window is pushed as soon as matching data exists
// and at least Interval has passed since the previous push; when nothing
// arrives for Heartbeat an empty keep-alive is pushed. Cancellation through
// ctx ends the stream without error.
func (p *Processor) Stream(ctx context.Context, req SampleRequest, emit func(SampleResponse) error) (err error) {
	defer func(start time.Time) { p.observe("stream", start, err) }(time.Now())
	defer p.guard("stream", &err)

	filter, _, err := p.scope(req.Device, req.DataItemIDs)
	if err != nil {
		return err
	}
	count, err := p.count(req.Count)
	if err != nil {
		return err
	}
	interval := max(req.Interval, p.cfg.MinInterval)
	heartbeat := req.Heartbeat
	if heartbeat <= 0 {
		heartbeat = p.cfg.DefaultHeartbeat
	}

	// Subscribe before the first read so no append between the two is missed.
	sub := p.store.Subscribe(filter)
	defer sub.Cancel()

	from := p.store.Stats().NextSequence
	if req.From != nil {
		from = *req.From
	}

	keepAlive := time.NewTimer(heartbeat)
	defer keepAlive.Stop()

	for {
		w, err := p.store.Scan(from, count, filter)
		if err != nil {
			return err
		}
		from = w.EndSequence

		if len(w.Observations) > 0 {
			if err := emit(p.window(w)); err != nil {
				return err
			}
			keepAlive.Reset(heartbeat)
			if interval > 0 {
				pause := time.NewTimer(interval)
				select {
				case <-ctx.Done():
					pause.Stop()
					return nil
				case <-pause.C:
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-sub.C():
		case <-keepAlive.C:
			if err := emit(p.window(w)); err != nil {
				return err
			}
			keepAlive.Reset(heartbeat)
		}
	}
}

type AssetsRequest struct {
	Device         string
	Type           string
	IDs            []string
	IncludeRemoved bool
	Count          int
}

type AssetsResponse struct {
	Header Header          `json:"header"`
	Assets []*domain.Asset `json:"assets"`
}

// Assets returns specific assets by id, or the newest assets in scope.
func (p *Processor) Assets(req AssetsRequest) (resp AssetsResponse, err error) {
	defer func(start time.Time) { p.observe("assets", start, err) }(time.Now())
	defer p.guard("assets", &err)

	resp.Header = p.liveHeader()
	if len(req.IDs) > 0 {
		for _, id := range req.IDs {
			a, ok := p.assets.Get(id)
			if !ok {
				return AssetsResponse{}, domain.NewError(domain.KindAssetNotFound, "cannot find asset %q", id)
			}
			resp.Assets = append(resp.Assets, a)
		}
		return resp, nil
	}

	q := buffer.AssetQuery{Type: req.Type, IncludeRemoved: req.IncludeRemoved, Max: req.Count}
	if q.Max == 0 {
		q.Max = p.cfg.DefaultAssetCount
	}
	if q.Max < 0 {
		return AssetsResponse{}, domain.NewError(domain.KindInvalidRequest, "'count' must be positive, got %d", req.Count)
	}
	if req.Device != "" {
		d, ok := p.model.Device(req.Device)
		if !ok {
			return AssetsResponse{}, domain.NewError(domain.KindNoDevice, "could not find the device %q", req.Device)
		}
		q.DeviceUUID = d.UUID
	}
	resp.Assets = p.assets.Query(q)
	return resp, nil
}
