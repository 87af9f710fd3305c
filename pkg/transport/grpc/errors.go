package grpc

import (
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/status"
)

func errUnsupported(what string) error {
    return status.Errorf(codes.Unimplemented, "%s not supported", what)
}
