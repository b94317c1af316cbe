package buffer

// DefaultCheckpointFrequency is the spacing, in sequences, of periodic checkpoints.
const DefaultCheckpointFrequency = 1000

// Option configures an ObservationBuffer.
type Option func(*options)

type options struct {
	checkpointFrequency int
	startSequence       uint64
}

// WithCheckpointFrequency sets how often a full state checkpoint is taken.
// Values below 1 keep the default.
func WithCheckpointFrequency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.checkpointFrequency = n
		}
	}
}

// WithStartSequence makes the first appended observation take seq instead of 1.
func WithStartSequence(seq uint64) Option {
	return func(o *options) {
		if seq > 0 {
			o.startSequence = seq
		}
	}
}

func applyOptions(opts ...Option) options {
	o := options{
		checkpointFrequency: DefaultCheckpointFrequency,
		startSequence:       1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
