package audio

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/jfreymuth/pulse/proto"
)

// DeviceKind distinguishes playback sinks from capture sources
type DeviceKind string

const (
	DeviceOutput DeviceKind = "output"
	DeviceInput  DeviceKind = "input"
)

// Device describes a PulseAudio sink or source
type Device struct {
	Index       uint32     `json:"index"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Kind        DeviceKind `json:"kind"`
	Default     bool       `json:"default"`
}

// ConnectPulse opens a protocol connection to the PulseAudio (or
// pipewire-pulse) server and announces the client name.
func ConnectPulse(clientName string) (*proto.Client, net.Conn, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		return nil, nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString(clientName),
		},
	}
	reply := proto.SetClientNameReply{}
	if err := client.Request(&request, &reply); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("set PulseAudio client name: %w", err)
	}

	return client, conn, nil
}

// ListDevices returns the output sinks and the non-monitor input sources
func ListDevices() ([]Device, error) {
	client, conn, err := ConnectPulse("jamdeck")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	defaultSink := uint32(proto.Undefined)
	sinkInfo := proto.GetSinkInfoReply{}
	if err := client.Request(&proto.GetSinkInfo{SinkIndex: proto.Undefined}, &sinkInfo); err == nil {
		defaultSink = sinkInfo.SinkIndex
	} else {
		slog.Debug("Failed to get default sink", "error", err)
	}

	devices := []Device{}

	sinks := proto.GetSinkInfoListReply{}
	if err := client.Request(&proto.GetSinkInfoList{}, &sinks); err != nil {
		return nil, fmt.Errorf("get sink list: %w", err)
	}
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		devices = append(devices, Device{
			Index:       sink.SinkIndex,
			Name:        sink.SinkName,
			Description: propString(sink.Properties, "device.description"),
			Kind:        DeviceOutput,
			Default:     sink.SinkIndex == defaultSink,
		})
	}

	sources := proto.GetSourceInfoListReply{}
	if err := client.Request(&proto.GetSourceInfoList{}, &sources); err != nil {
		return nil, fmt.Errorf("get source list: %w", err)
	}
	for _, source := range sources {
		if source == nil || source.MonitorSourceIndex != proto.Undefined {
			continue
		}
		devices = append(devices, Device{
			Index:       source.SourceIndex,
			Name:        source.SourceName,
			Description: propString(source.Properties, "device.description"),
			Kind:        DeviceInput,
		})
	}

	return devices, nil
}

func propString(props proto.PropList, key string) string {
	if props == nil {
		return ""
	}
	if v, ok := props[key]; ok {
		return v.String()
	}
	return ""
}
