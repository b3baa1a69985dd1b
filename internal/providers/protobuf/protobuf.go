// Package protobuf adapts google.golang.org/protobuf into a
// providers.Provider: FileDescriptorProto parsing, fingerprinting,
// field extraction, and message-level compatibility checking.
//
// Schema (de)serialization of message payloads is out of scope for
// this core (spec §1 limits the dialect contract to parsing,
// fingerprinting, field extraction, and compatibility), so only the
// descriptor side of the library is used here: protojson reads the
// FileDescriptorProto text, protodesc/protoregistry build the file
// descriptor, and proto marshals it for fingerprinting. Message
// payloads are never marshaled, and dynamicpb is not used.
package protobuf

import (
	"crypto/sha256"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/nimbusdata/schema-registry/internal/domain"
	"github.com/nimbusdata/schema-registry/internal/regerrors"
)

const DialectTag = "protobuf"

type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Type() string { return DialectTag }

func parseFile(text string) (protoreflect.FileDescriptor, error) {
	var fdProto descriptorpb.FileDescriptorProto
	if err := protojson.Unmarshal([]byte(text), &fdProto); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w: %w", err, regerrors.ErrInvalidSchema)
	}
	fd, err := protodesc.NewFile(&fdProto, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("create file descriptor: %w: %w", err, regerrors.ErrInvalidSchema)
	}
	return fd, nil
}

// Fingerprint hashes the canonical wire bytes of the parsed
// FileDescriptorProto, so field reordering in the source JSON does not
// change the fingerprint.
func (p *Provider) Fingerprint(text string) ([]byte, error) {
	fd, err := parseFile(text)
	if err != nil {
		return nil, err
	}
	canon, err := proto.Marshal(protodesc.ToFileDescriptorProto(fd))
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	sum := sha256.Sum256(canon)
	return sum[:], nil
}

func (p *Provider) Fields(text string) ([]domain.FieldDescriptor, error) {
	fd, err := parseFile(text)
	if err != nil {
		return nil, err
	}
	if fd.Messages().Len() == 0 {
		return nil, nil
	}
	msg := fd.Messages().Get(0)
	out := make([]domain.FieldDescriptor, 0, msg.Fields().Len())
	for i := 0; i < msg.Fields().Len(); i++ {
		field := msg.Fields().Get(i)
		out = append(out, domain.FieldDescriptor{
			Name:      string(field.Name()),
			Namespace: string(fd.Package()),
			Type:      field.Kind().String(),
		})
	}
	return out, nil
}

func (p *Provider) IsCompatible(candidate string, existing []string, policy domain.CompatibilityPolicy) (bool, error) {
	newFile, err := parseFile(candidate)
	if err != nil {
		return false, err
	}

	for _, text := range existing {
		oldFile, err := parseFile(text)
		if err != nil {
			return false, err
		}

		switch policy {
		case domain.CompatibilityNone:
			continue
		case domain.CompatibilityBackward:
			if ok, _ := checkMessagesCompatible(messageTypes(oldFile), messageTypes(newFile), true); !ok {
				return false, nil
			}
		case domain.CompatibilityForward:
			if ok, _ := checkMessagesCompatible(messageTypes(newFile), messageTypes(oldFile), true); !ok {
				return false, nil
			}
		case domain.CompatibilityFull, domain.CompatibilityBoth:
			back, _ := checkMessagesCompatible(messageTypes(oldFile), messageTypes(newFile), true)
			fwd, _ := checkMessagesCompatible(messageTypes(newFile), messageTypes(oldFile), true)
			if !back || !fwd {
				return false, nil
			}
		default:
			continue
		}
	}
	return true, nil
}

func messageTypes(fd protoreflect.FileDescriptor) map[string]protoreflect.MessageDescriptor {
	out := make(map[string]protoreflect.MessageDescriptor, fd.Messages().Len())
	for i := 0; i < fd.Messages().Len(); i++ {
		msg := fd.Messages().Get(i)
		out[string(msg.Name())] = msg
	}
	return out
}

// checkMessagesCompatible verifies every message/field in `from` still
// exists, with a compatible kind and cardinality, in `to`.
func checkMessagesCompatible(from, to map[string]protoreflect.MessageDescriptor, recurse bool) (bool, error) {
	for name, fromMsg := range from {
		toMsg, exists := to[name]
		if !exists {
			return false, fmt.Errorf("message %s missing in target schema", name)
		}
		if ok, err := fieldsCompatible(fromMsg, toMsg); !ok {
			return false, err
		}
	}
	return true, nil
}

func fieldsCompatible(fromMsg, toMsg protoreflect.MessageDescriptor) (bool, error) {
	for i := 0; i < fromMsg.Fields().Len(); i++ {
		fromField := fromMsg.Fields().Get(i)
		toField := toMsg.Fields().ByNumber(fromField.Number())
		if toField == nil {
			return false, fmt.Errorf("field %s removed", fromField.Name())
		}
		if fromField.Kind() != toField.Kind() {
			return false, fmt.Errorf("incompatible type change for field %s", fromField.Name())
		}
		if fromField.Cardinality() != toField.Cardinality() {
			return false, fmt.Errorf("cardinality change for field %s", fromField.Name())
		}
		if fromField.Kind() == protoreflect.MessageKind {
			if ok, err := fieldsCompatible(fromField.Message(), toField.Message()); !ok {
				return false, err
			}
		}
	}
	return true, nil
}
