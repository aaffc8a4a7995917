// Package cameraframework drives a camera from an application: it opens a
// device, runs one acquisition goroutine that fills a bounded drop-oldest
// queue, and lets any number of consumers drain that queue at their own pace.
//
// # Quick Start
//
//	src := synthetic.New(synthetic.Options{Width: 640, Height: 480})
//	ctrl := cameraframework.NewController(src, cameraframework.Options{})
//	defer ctrl.Close()
//
//	if err := ctrl.Open(ctx, 0); err != nil {
//	    log.Fatal(err)
//	}
//	if err := ctrl.StartStreaming(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Drain frames until ctx ends
//	err := cameraframework.Consume(ctx, ctrl.Queue(), func(s cameraframework.Sample) error {
//	    log.Printf("frame %d at %.1f fps", s.Frame.Seq, s.FPS)
//	    return nil
//	})
//
// # State Machine
//
//	Closed --Open--> Opened --StartStreaming--> Streaming
//	Streaming --StopStreaming--> Opened --Close--> Closed
//	Streaming --Close--> (stop, then release) --> Closed
//
// Calls from the wrong state either no-op (StopStreaming outside Streaming,
// StartStreaming while already Streaming) or return a *PreconditionError.
//
// # Backpressure
//
// The acquisition goroutine never waits for consumers. When the queue is full
// the oldest sample is evicted, so consumers must tolerate gaps in Frame.Seq.
//
// # Settings
//
// Settings are two-phase: StageSettings records a pending set, Apply commits it.
// Applying is refused while Streaming; committed settings take effect at the
// next StartStreaming (device index changes reopen the device).
//
// # Thread Safety
//
//   - Lifecycle and settings calls serialize on one mutex
//   - State and Stats never block on lifecycle calls
//   - The queue is the only object shared with the acquisition goroutine
package cameraframework
