package player

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

// gstInitOnce guards gst.Init, grounded on
// helixml-helix/api/pkg/desktop/gst_pipeline.go's gstInitOnce/InitGStreamer
// pattern: GStreamer's global init is not safe to call more than once.
var gstInitOnce sync.Once

func initGStreamer() {
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
}

// frameHandler receives one decoded frame's raw BGRA bytes plus the
// intrinsic video size read off the negotiated caps. It is called from the
// GStreamer streaming thread, so implementations must not block.
type frameHandler func(data []byte, w, h int)

// buildPipeline constructs and links (but does not play) the GStreamer
// pipeline for source, honoring hwdec, and wires its terminal appsink's
// new-sample callback to onFrame. It exhaustively switches on source.Kind
// per source.go's tagged-union design, mirroring how pipelineURI does the
// same switch for the element driving the decode.
//
// Pipelines are authored as gst-launch description strings and parsed with
// gst.NewPipelineFromString, and the terminal element is a named appsink
// pulled via app.SinkFromElement — the same construction
// helixml-helix/api/pkg/desktop/gst_pipeline.go's NewGstPipeline uses, down
// to the appsink property set (emit-signals/sync/max-buffers/drop) and the
// PullSample/Map/copy-out discipline in its onNewSample. Unlike that
// pipeline (which ships the compressed elementary stream to a remote
// decoder), this appsink receives raw BGRA frames already decoded and
// scaled by the pipeline, ready to upload straight into a Vulkan staging
// buffer.
func buildPipeline(source Source, hwdec HwdecMode, onFrame frameHandler) (*gst.Pipeline, error) {
	initGStreamer()

	desc, err := pipelineDescription(source, hwdec)
	if err != nil {
		return nil, err
	}

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline %q: %w", desc, err)
	}

	elem, err := pipeline.GetElementByName("videosink")
	if err != nil || elem == nil {
		return nil, fmt.Errorf("pipeline has no videosink element: %w", err)
	}
	sink := app.SinkFromElement(elem)
	if sink == nil {
		return nil, fmt.Errorf("videosink element is not an appsink")
	}

	sink.SetProperty("emit-signals", true)
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", uint(2))
	sink.SetProperty("drop", true)

	if onFrame != nil {
		sink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
				return pullFrame(s, onFrame)
			},
		})
	}

	return pipeline, nil
}

// pullFrame pulls one sample off sink and copies its mapped bytes out
// before returning, since the buffer is only valid for the duration of
// this callback — the same copy-before-return discipline
// gst_pipeline.go's onNewSample follows. The intrinsic frame size is read
// off the sample's negotiated caps structure; go-gst exposes no
// corpus-grounded helper for this particular extraction, so it is written
// directly against the gst.Caps/gst.Structure surface.
func pullFrame(sink *app.Sink, onFrame frameHandler) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	defer buffer.Unmap()

	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())

	w, h := frameDimensions(sample)
	onFrame(data, w, h)
	return gst.FlowOK
}

// frameDimensions reads width/height off sample's negotiated caps,
// returning (0, 0) if either is unavailable so callers can treat that as
// "no size yet" rather than fail the pull.
func frameDimensions(sample *gst.Sample) (int, int) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return 0, 0
	}

	w, _ := structure.GetValue("width")
	h, _ := structure.GetValue("height")
	wi, wok := w.(int)
	hi, hok := h.(int)
	if !wok || !hok {
		return 0, 0
	}
	return wi, hi
}

// audioVolumeElement names the volume element in pipelines that carry an
// audio branch; Player.applyAudioLocked pushes volume/mute changes onto it.
const audioVolumeElement = "vol"

// videoTail is the shared terminal video chain: convert/scale into the
// forced BGRA caps the appsink pulls from.
const videoTail = "videoconvert ! videoscale ! video/x-raw,format=BGRA ! appsink name=videosink"

// audioTail is the shared audio branch, ending in a named volume element so
// set-volume/toggle-mute act on the live pipeline.
const audioTail = "audioconvert ! audioresample ! volume name=" + audioVolumeElement + " ! autoaudiosink"

// pipelineDescription builds the gst-launch syntax string for source. Every
// branch terminates in a forced BGRA caps filter followed by a named
// "appsink", so buildPipeline can always pull raw frames regardless of
// source kind. hwdec=force builds an explicit vaapi decode chain so an
// unavailable hardware decoder fails pipeline construction rather than
// silently downgrading; hwdec=no pins uridecodebin3's software decoders.
func pipelineDescription(source Source, hwdec HwdecMode) (string, error) {
	switch source.Kind {
	case SourceFile, SourcePipe, SourceURL:
		uri, err := source.pipelineURI()
		if err != nil {
			return "", err
		}
		if hwdec == HwdecForce {
			// Video-only: the forced chain decodes exactly one elementary
			// stream, and failing loudly beats guessing at an audio path.
			return fmt.Sprintf(
				"urisourcebin uri=%s ! parsebin ! vaapidecodebin ! %s",
				quoteURI(uri), videoTail,
			), nil
		}
		swOnly := ""
		if hwdec == HwdecNo {
			swOnly = "force-sw-decoders=true "
		}
		return fmt.Sprintf(
			"uridecodebin3 name=dec %suri=%s dec. ! queue ! %s dec. ! queue ! %s",
			swOnly, quoteURI(uri), videoTail, audioTail,
		), nil

	case SourceImageSeq:
		// multifilesrc drives a sorted directory of still images at a fixed
		// rate, matching original_source/src/core/types.rs's ImageSequence
		// variant; caps carry the frame rate as a fraction and loop=true
		// wraps back to frame zero.
		fps := source.FPS
		if fps <= 0 {
			fps = 30
		}
		return fmt.Sprintf(
			"multifilesrc location=%q index=0 loop=true caps=image/png,framerate=%d/1 ! "+
				"pngdec ! %s",
			source.Path+"/%08d.png", int(fps), videoTail,
		), nil

	case SourceRTSP:
		// rtspsrc rather than uridecodebin3: RTSP sessions need explicit
		// latency/protocols tuning that uridecodebin3 doesn't expose. Live
		// camera streams are treated as video-only.
		dec := "decodebin3"
		if hwdec == HwdecForce {
			dec = "vaapidecodebin"
		}
		return fmt.Sprintf(
			"rtspsrc location=%s latency=200 protocols=tcp ! rtph264depay ! h264parse ! %s ! %s",
			quoteURI(source.URL), dec, videoTail,
		), nil

	case SourceDirectory:
		paths, err := enumeratePlaylist(source.Path)
		if err != nil {
			return "", err
		}
		if len(paths) == 0 {
			return "", fmt.Errorf("directory source %q has no playable files", source.Path)
		}
		// The first playlist entry opens the pipeline; Player-level playlist
		// advancement re-opens on the next path at EOS, rather than this
		// layer building an N-way concat pipeline.
		return pipelineDescription(Source{Kind: SourceFile, Path: paths[0]}, hwdec)

	default:
		return "", fmt.Errorf("unknown source kind %d", source.Kind)
	}
}

func quoteURI(uri string) string {
	if strings.ContainsAny(uri, " \t\"") {
		return fmt.Sprintf("%q", uri)
	}
	return uri
}
