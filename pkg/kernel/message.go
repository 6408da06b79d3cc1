// Copyright 2025 The Minos Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

// MessageKind discriminates the payload carried by a Message.
type MessageKind int

const (
	MsgTimer MessageKind = iota + 1
	MsgKeyboard
	MsgMouse
	MsgPipeData
	MsgWindowActive
	MsgDraw
)

// Message is one entry in a task's pending-message FIFO. Kind selects which
// payload field is meaningful; the rest are zero.
type Message struct {
	Kind MessageKind

	// Src is the sending task, zero for kernel-originated messages.
	Src uint64

	Timer        TimerEvent
	Keyboard     KeyEvent
	Mouse        MouseEvent
	Pipe         PipeData
	WindowActive WindowActiveEvent
	Draw         DrawRequest
}

// TimerEvent reports an expired timer: the tick it fired at and the
// caller-chosen value identifying which timer.
type TimerEvent struct {
	Timeout uint64
	Value   int
}

// KeyEvent is one key press or release.
type KeyEvent struct {
	Modifier uint8
	Keycode  uint8
	ASCII    byte
	Press    bool
}

// MouseEvent is one pointer movement or button transition.
type MouseEvent struct {
	X, Y    int32
	DX, DY  int32
	Buttons uint8
}

// PipeData carries up to 16 bytes of inter-task stream data.
type PipeData struct {
	Data [16]byte
	Len  int
}

// WindowActiveEvent reports focus gain or loss.
type WindowActiveEvent struct {
	Activate bool
}

// DrawRequest asks the owner of a surface to repaint a region.
type DrawRequest struct {
	SurfaceID          uint64
	X, Y, Width, Height int32
}
