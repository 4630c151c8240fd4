package control

type BalancerConfig struct {
	Kp, Ki, Kd float64
	// TargetTheta is the θz the loop holds [rad].
	TargetTheta   float64
	IntegralLimit float64
	// VelocityGain feeds head velocity [m/s] straight into the motor power.
	VelocityGain float64
	SampleTime   float64
	// DerivativeTimeConstant is the derivative lag [s]; 0 keeps
	// DefaultDerivativeTimeConstant.
	DerivativeTimeConstant float64
}

// Balancer drives both wheels with the same power to hold the body at the
// target pitch.
type Balancer struct {
	pid    *PID
	target float64
	kv     float64
}

func NewBalancer(cfg BalancerConfig) *Balancer {
	pid := NewPID(cfg.Kp, cfg.Ki, cfg.Kd)
	pid.SetIntegralLimit(cfg.IntegralLimit)
	pid.SetSampleTime(cfg.SampleTime)
	if cfg.DerivativeTimeConstant > 0 {
		pid.SetDerivativeTimeConstant(cfg.DerivativeTimeConstant)
	}
	return &Balancer{pid: pid, target: cfg.TargetTheta, kv: cfg.VelocityGain}
}

func (b *Balancer) SetSampleTime(dt float64) { b.pid.SetSampleTime(dt) }

// Reset clears the integral and re-primes the derivative, for use after
// the robot has been re-initialized.
func (b *Balancer) Reset() { b.pid.Reset() }

// Update returns the left and right motor power in [-1, 1].
func (b *Balancer) Update(thetaZ, headVelocity float64) (left, right float64) {
	u := b.pid.Update(b.target, thetaZ) + b.kv*headVelocity
	if u > 1 {
		u = 1
	}
	if u < -1 {
		u = -1
	}
	return u, u
}
