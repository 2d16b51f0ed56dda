package model

import (
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var ErrNoImages = goerr.New("at least one image is required")

// RequestKind tags the variant of a generation request
type RequestKind string

const (
	RequestKindText         RequestKind = "text"
	RequestKindImage        RequestKind = "image"
	RequestKindTextAndImage RequestKind = "text-and-image"
	RequestKindRefine       RequestKind = "refine"
	RequestKindCategory     RequestKind = "category"
)

// Request is one generation submission. The set of implementations is closed.
type Request interface {
	Kind() RequestKind
	Validate() error
	// DisplayInputs is the projection shown in history while the entry is in flight
	DisplayInputs(now time.Time) RuleInputs

	request()
}

type TextRequest struct {
	Inputs RuleInputs
}

type ImageRequest struct {
	Images []Image
}

type TextAndImageRequest struct {
	Inputs RuleInputs
	Images []Image
}

type RefineRequest struct {
	Inputs RefineRuleInputs
}

type CategoryRequest struct {
	Inputs CategoryInputs
}

func (TextRequest) request()         {}
func (ImageRequest) request()        {}
func (TextAndImageRequest) request() {}
func (RefineRequest) request()       {}
func (CategoryRequest) request()     {}

func (TextRequest) Kind() RequestKind         { return RequestKindText }
func (ImageRequest) Kind() RequestKind        { return RequestKindImage }
func (TextAndImageRequest) Kind() RequestKind { return RequestKindTextAndImage }
func (RefineRequest) Kind() RequestKind       { return RequestKindRefine }
func (CategoryRequest) Kind() RequestKind     { return RequestKindCategory }

func (x TextRequest) Validate() error { return x.Inputs.Validate() }

func (x ImageRequest) Validate() error {
	if len(x.Images) == 0 {
		return goerr.Wrap(ErrNoImages, "image generation requires images")
	}
	return nil
}

func (x TextAndImageRequest) Validate() error {
	if err := x.Inputs.Validate(); err != nil {
		return err
	}
	if len(x.Images) == 0 {
		return goerr.Wrap(ErrNoImages, "text and image generation requires images")
	}
	return nil
}

func (x RefineRequest) Validate() error   { return x.Inputs.Validate() }
func (x CategoryRequest) Validate() error { return x.Inputs.Validate() }

func (x TextRequest) DisplayInputs(time.Time) RuleInputs { return x.Inputs }

func (x ImageRequest) DisplayInputs(now time.Time) RuleInputs {
	return RuleInputs{
		Category:      "Image-Based",
		AttributeName: fmt.Sprintf("OCR Result (%s)", now.Format("15:04:05")),
		Values:        "N/A",
	}
}

func (x TextAndImageRequest) DisplayInputs(time.Time) RuleInputs { return x.Inputs }

func (x RefineRequest) DisplayInputs(time.Time) RuleInputs {
	return RuleInputs{
		Category:      "Refining Rule...",
		AttributeName: "AI is analyzing...",
	}
}

func (x CategoryRequest) DisplayInputs(time.Time) RuleInputs { return x.Inputs.DisplayInputs() }
