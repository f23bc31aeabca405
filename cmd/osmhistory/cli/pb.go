// Copyright 2017-25 the original author or authors.
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

package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	pb "gopkg.in/cheggaaa/pb.v1"
)

// progressBar is an instance of ReadCloser with an associated ProgressBar.
// Closing this instance closes the delegate as well as clearing the terminal
// line of progress output.
type progressBar struct {
	r   io.ReadCloser
	bar *pb.ProgressBar
}

// WrapInputFile creates an instance of os.File with an associated
// ProgressBar that tracks the bytes read relative to the total.
func WrapInputFile(f *os.File) (io.ReadCloser, error) {
	if f == os.Stdin {
		// don't bother wrapping stdin
		return os.Stdin, nil
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	bar := pb.New64(fi.Size()).SetUnits(pb.U_BYTES_DEC).SetWidth(79)
	bar.Output = os.Stderr
	bar.Start()

	return progressBar{
		r:   bar.NewProxyReader(f),
		bar: bar,
	}, nil
}

// Read implements io.Reader.Read by simple delegation.
func (p progressBar) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Close implements io.Closer.Close by closing the delegate instance of
// ReadCloser as well as clearing the terminal line of progress output.
func (p progressBar) Close() error {
	clearBar(p.bar)

	return p.r.Close()
}

// StageProgress shows one progress bar per stage of a multi-stage job. Its
// Update method is safe for concurrent use.
type StageProgress struct {
	mu    sync.Mutex
	stage string
	bar   *pb.ProgressBar
}

// Update moves the bar of stage to done out of total, replacing the bar of
// the previous stage.
func (s *StageProgress) Update(stage string, done, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stage != s.stage {
		if s.bar != nil {
			clearBar(s.bar)
		}

		s.stage = stage
		s.bar = pb.New64(total).Prefix(fmt.Sprintf("%-9s", stage)).SetWidth(79)
		s.bar.Output = os.Stderr
		s.bar.Start()
	}

	s.bar.Set64(done)
}

// Finish removes the last bar.
func (s *StageProgress) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bar != nil {
		clearBar(s.bar)
		s.bar = nil
	}
}

func clearBar(bar *pb.ProgressBar) {
	// make sure newline is not printed by Finish()
	bar.Output = nil
	bar.NotPrint = true

	bar.Finish()

	fmt.Fprintf(os.Stderr, "\033[2K\r") // clear status bar
}
