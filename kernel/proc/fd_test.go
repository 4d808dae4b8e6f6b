package proc

import (
	"errors"
	"io"
	"testing"

	"github.com/d4ilyrun/kernel-sub002/kernel/vfs"
)

type fakeFile struct {
	closed  bool
	closeErr error
}

func (f *fakeFile) Read(p []byte) (int, error)  { return 0, io.EOF }
func (f *fakeFile) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeFile) Seek(offset int64, whence int) (int64, error) { return 0, nil }
func (f *fakeFile) Stat() (vfs.Stat, error)     { return vfs.Stat{}, nil }
func (f *fakeFile) Close() error {
	f.closed = true
	return f.closeErr
}

func TestAddFileAssignsLowestFreeDescriptorStartingAtThree(t *testing.T) {
	withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fd1 := p.AddFile(&fakeFile{})
	fd2 := p.AddFile(&fakeFile{})

	if fd1 != 3 || fd2 != 4 {
		t.Errorf("expected descriptors 3 and 4; got %d and %d", fd1, fd2)
	}
}

func TestCloseFileRemovesAndClosesIt(t *testing.T) {
	withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := &fakeFile{}
	fd := p.AddFile(f)

	if err := p.CloseFile(fd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.closed {
		t.Error("expected the underlying file to be closed")
	}
	if _, err := p.File(fd); err != errBadFD {
		t.Errorf("expected errBadFD after close; got %v", err)
	}
}

func TestFileReturnsErrorForUnknownDescriptor(t *testing.T) {
	withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.File(99); err != errBadFD {
		t.Errorf("expected errBadFD; got %v", err)
	}
}

func TestCloseFileSurfacesUnderlyingCloseError(t *testing.T) {
	withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantErr := errors.New("disk went away")
	fd := p.AddFile(&fakeFile{closeErr: wantErr})

	if err := p.CloseFile(fd); err == nil {
		t.Fatal("expected an error")
	}
}
