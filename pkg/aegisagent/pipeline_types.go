package aegisagent

import (
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Observation is one sequenced value reported for a data item.
type Observation = domain.Observation

// Condition is the state tuple carried by CONDITION observations.
type Condition = domain.Condition

// Device is the root of a device model.
type Device = domain.Device

// Component groups data items and sub-components of a device.
type Component = domain.Component

// DataItem describes one reported quantity of a device.
type DataItem = domain.DataItem

// Asset is a versioned document attached to a device.
type Asset = domain.Asset

// AdapterEvent is what collectors deliver to the agent.
type AdapterEvent = domain.AdapterEvent

// Input is one validated observation or asset change inside an AdapterEvent.
type Input = domain.Input

// Error is the classified failure returned by queries and ingestion.
type Error = domain.Error

// QueuedObservation represents an item buffered inside the bounded archive queue.
type QueuedObservation = ports.QueuedObservation

// Collector streams adapter events (SHDR, OPC UA, simulators, ...) into the agent.
type Collector = ports.Collector

// ObservationQueue is the bounded, in-memory queue between the WAL and the sinks.
type ObservationQueue = ports.ObservationQueue

// Transformer converts adapter values (units, calibration) before buffering.
type Transformer = ports.Transformer

// Sink consumes batches of archived observations.
type Sink = ports.Sink

// Observability emits metrics/logs about throughput, latency, and DLQ conditions.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// StateStore persists the instance id and next sequence between runs.
type StateStore = ports.StateStore

// WAL abstracts the write-ahead log used for archive durability and crash recovery.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

// WALEntryID uniquely identifies a WAL entry.
type WALEntryID = ports.WALEntryID
