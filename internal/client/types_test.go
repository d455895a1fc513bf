package client

import "testing"

func TestSelectBufferPicksGreatestCompleteFrameNo(t *testing.T) {
	bufs := []BufferDescriptor{
		{Index: 1, Complete: true, FrameNo: 10},
		{Index: 2, Complete: true, FrameNo: 12},
		{Index: 3, Complete: true, FrameNo: 11},
	}
	got, ok := SelectBuffer(bufs)
	if !ok {
		t.Fatal("expected a buffer to be selected")
	}
	if got.Index != 2 || got.FrameNo != 12 {
		t.Fatalf("expected buffer 2 (frame 12), got buffer %d (frame %d)", got.Index, got.FrameNo)
	}
}

func TestSelectBufferIgnoresIncomplete(t *testing.T) {
	bufs := []BufferDescriptor{
		{Index: 1, Complete: true, FrameNo: 5},
		{Index: 2, Complete: false, FrameNo: 99},
	}
	got, ok := SelectBuffer(bufs)
	if !ok || got.Index != 1 {
		t.Fatalf("expected buffer 1 selected (only complete one), got %+v ok=%v", got, ok)
	}
}

func TestSelectBufferNoneComplete(t *testing.T) {
	bufs := []BufferDescriptor{{Index: 1, Complete: false, FrameNo: 5}}
	if _, ok := SelectBuffer(bufs); ok {
		t.Fatal("expected no buffer selected when none are complete")
	}
}
