// Package descset loads compiled protobuf descriptor sets so calls can be
// made without generated code.
package descset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jhump/protoreflect/v2/protoprint"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

var (
	ErrMethodNotFound  = errors.New("descset: method not found")
	ErrInvalidMethod   = errors.New("descset: method must look like /pkg.Service/Method")
	ErrMissingImport   = errors.New("descset: missing import")
	ErrStreamingMethod = errors.New("descset: streaming methods are not supported")
)

// Load reads a binary FileDescriptorSet, as written by
// `protoc --include_imports -o` or `buf build -o`.
func Load(path string) (*protoregistry.Files, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(b, &set); err != nil {
		return nil, fmt.Errorf("descset: parse %s: %w", path, err)
	}
	return FromSet(&set)
}

// FromSet builds a registry from set. Imports missing from the set are
// resolved against the well-known types linked into the binary.
func FromSet(set *descriptorpb.FileDescriptorSet) (*protoregistry.Files, error) {
	byPath := make(map[string]*descriptorpb.FileDescriptorProto, len(set.GetFile()))
	for _, f := range set.GetFile() {
		byPath[f.GetName()] = f
	}
	b := &builder{byPath: byPath, files: new(protoregistry.Files), visiting: map[string]bool{}}
	for _, f := range set.GetFile() {
		if err := b.add(f.GetName()); err != nil {
			return nil, err
		}
	}
	return b.files, nil
}

type builder struct {
	byPath   map[string]*descriptorpb.FileDescriptorProto
	files    *protoregistry.Files
	visiting map[string]bool
}

func (b *builder) add(path string) error {
	if _, err := b.files.FindFileByPath(path); err == nil {
		return nil
	}
	fdp, ok := b.byPath[path]
	if !ok {
		fd, err := protoregistry.GlobalFiles.FindFileByPath(path)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrMissingImport, path)
		}
		return b.files.RegisterFile(fd)
	}
	if b.visiting[path] {
		return fmt.Errorf("descset: import cycle through %s", path)
	}
	b.visiting[path] = true
	defer delete(b.visiting, path)

	for _, dep := range fdp.GetDependency() {
		if err := b.add(dep); err != nil {
			return err
		}
	}
	fd, err := protodesc.NewFile(fdp, b.files)
	if err != nil {
		return fmt.Errorf("descset: %s: %w", path, err)
	}
	return b.files.RegisterFile(fd)
}

// FindMethod resolves "/pkg.Service/Method" to its descriptor. Only unary
// methods are returned.
func FindMethod(files *protoregistry.Files, fullMethod string) (protoreflect.MethodDescriptor, error) {
	svc, name, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !strings.HasPrefix(fullMethod, "/") || !ok || svc == "" || name == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, fullMethod)
	}
	d, err := files.FindDescriptorByName(protoreflect.FullName(svc))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, fullMethod)
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a service", ErrMethodNotFound, svc)
	}
	md := sd.Methods().ByName(protoreflect.Name(name))
	if md == nil {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, fullMethod)
	}
	if md.IsStreamingClient() || md.IsStreamingServer() {
		return nil, fmt.Errorf("%w: %s", ErrStreamingMethod, fullMethod)
	}
	return md, nil
}

// Render prints fd as .proto source.
func Render(fd protoreflect.FileDescriptor, w io.Writer) error {
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(fd, w)
}
