package detector

import "github.com/xraylab/eigerhttp/eiger"

// Parameter accessors.  Parameters are writable at any time without the
// access lock; they are inert until Configure pushes them, and the
// operations read them as one snapshot under the state mutex.

// Parameters returns a snapshot of the current parameter set
func (c *Controller) Parameters() eiger.Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// ThresholdEnergy gets the discriminator threshold in eV
func (c *Controller) ThresholdEnergy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.ThresholdEnergy
}

// SetThresholdEnergy sets the discriminator threshold in eV
func (c *Controller) SetThresholdEnergy(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.ThresholdEnergy = v
}

// PhotonEnergy gets the photon energy in eV
func (c *Controller) PhotonEnergy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.PhotonEnergy
}

// SetPhotonEnergy sets the photon energy in eV
func (c *Controller) SetPhotonEnergy(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.PhotonEnergy = v
}

// FrameTime gets the time per frame in seconds
func (c *Controller) FrameTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.FrameTime
}

// SetFrameTime sets the time per frame in seconds
func (c *Controller) SetFrameTime(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.FrameTime = v
}

// CountTime gets the total exposure time in seconds
func (c *Controller) CountTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.CountTime
}

// SetCountTime sets the total exposure time in seconds
func (c *Controller) SetCountTime(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.CountTime = v
}

// CountRateCorrection gets whether count rate correction is requested
func (c *Controller) CountRateCorrection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.CountRateCorrection
}

// SetCountRateCorrection sets whether count rate correction is requested
func (c *Controller) SetCountRateCorrection(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.CountRateCorrection = v
}

// FlatFieldCorrection gets whether flat field correction is requested
func (c *Controller) FlatFieldCorrection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.FlatFieldCorrection
}

// SetFlatFieldCorrection sets whether flat field correction is requested
func (c *Controller) SetFlatFieldCorrection(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.FlatFieldCorrection = v
}

// PixelMaskCorrection gets whether the pixel mask is applied
func (c *Controller) PixelMaskCorrection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.PixelMaskCorrection
}

// SetPixelMaskCorrection sets whether the pixel mask is applied
func (c *Controller) SetPixelMaskCorrection(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.PixelMaskCorrection = v
}

// OutputFilePrefix gets the stem of the output file names
func (c *Controller) OutputFilePrefix() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.OutputFilePrefix
}

// SetOutputFilePrefix sets the stem of the output file names
func (c *Controller) SetOutputFilePrefix(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params.OutputFilePrefix = v
}
